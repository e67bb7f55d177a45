package tigerweb

// featureAttrNames maps TIGERWeb feature field names to Census Data API
// geography names, so feature attributes can seed geography filters.
var featureAttrNames = map[string]string{
	"REGION":   "region",
	"DIVISION": "division",
	"STATE":    "state",
	"COUNTY":   "county",
	"COUSUB":   "county subdivision",
	"TRACT":    "tract",
	"BLKGRP":   "block group",
	"BLOCK":    "block",
	"PLACE":    "place",
	"CBSA":     "metropolitan statistical area/micropolitan statistical area",
	"CSA":      "combined statistical area",
	"CD":       "congressional district",
	"SLDU":     "state legislative district (upper chamber)",
	"SLDL":     "state legislative district (lower chamber)",
	"VTD":      "voting district",
	"ZCTA5":    "zip code tabulation area",
	"AIANNH":   "american indian area/alaska native area/hawaiian home land",
	"UA":       "urban area",
	"NECTA":    "new england city and town area",
	"SDELM":    "school district (elementary)",
	"SDSEC":    "school district (secondary)",
	"SDUNI":    "school district (unified)",
	"PUMA":     "public use microdata area",
}

// LayerGeoLevel maps TIGERWeb layer names to the Census geography name the
// layer's features correspond to.
var LayerGeoLevel = map[string]string{
	"Census Regions":                     "region",
	"Census Divisions":                   "division",
	"States":                             "state",
	"Counties":                           "county",
	"County Subdivisions":                "county subdivision",
	"Census Tracts":                      "tract",
	"Census Block Groups":                "block group",
	"Census Blocks":                      "block",
	"Incorporated Places":                "place",
	"Census Designated Places":           "place",
	"Metropolitan Statistical Areas":     "metropolitan statistical area/micropolitan statistical area",
	"Micropolitan Statistical Areas":     "metropolitan statistical area/micropolitan statistical area",
	"Combined Statistical Areas":         "combined statistical area",
	"Congressional Districts":            "congressional district",
	"Voting Districts":                   "voting district",
	"Census ZIP Code Tabulation Areas":   "zip code tabulation area",
	"Zip Code Tabulation Areas":          "zip code tabulation area",
	"Urban Areas":                        "urban area",
	"Public Use Microdata Areas":         "public use microdata area",
}

// canonicalAttrName translates a TIGERWeb field name into the Data API
// geography name, passing through names without a mapping.
func canonicalAttrName(field string) string {
	if mapped, ok := featureAttrNames[field]; ok {
		return mapped
	}
	return field
}
