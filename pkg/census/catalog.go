package census

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CatalogURL is the Bureau's dataset discovery document.
const CatalogURL = "https://api.census.gov/data.json"

// ProductKey identifies one dataset: the vintage followed by the c_dataset
// path elements, e.g. ["2021", "acs", "acs5"]. Timeseries products carry no
// vintage.
type ProductKey []string

func (k ProductKey) String() string {
	return strings.Join(k, " -> ")
}

func (k ProductKey) id() string {
	return strings.Join(k, "/")
}

// CatalogEntry is one dataset from the discovery document.
type CatalogEntry struct {
	Title   string
	Vintage int
	Dataset []string
	Key     ProductKey
}

// Catalog indexes every dataset the Bureau publishes, used to validate
// product keys before a Dataset drags down megabytes of metadata.
type Catalog struct {
	entries []CatalogEntry
	keys    map[string]bool
}

// catalogDocument mirrors the discovery JSON shape.
type catalogDocument struct {
	Dataset []struct {
		Title   string   `json:"title"`
		Vintage any      `json:"c_vintage"`
		Dataset []string `json:"c_dataset"`
	} `json:"dataset"`
}

// ParseCatalog builds a Catalog from the raw discovery document.
func ParseCatalog(body []byte) (*Catalog, error) {
	var doc catalogDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, eris.Wrap(err, "census: decode catalog")
	}

	c := &Catalog{keys: map[string]bool{}}
	for _, d := range doc.Dataset {
		key := ProductKey{}
		vintage := vintageInt(d.Vintage)
		if vintage != 0 {
			key = append(key, fmt.Sprintf("%d", vintage))
		}
		key = append(key, d.Dataset...)
		if len(key) == 0 {
			continue
		}
		c.entries = append(c.entries, CatalogEntry{
			Title:   d.Title,
			Vintage: vintage,
			Dataset: d.Dataset,
			Key:     key,
		})
		c.keys[key.id()] = true
	}

	zap.L().Debug("parsed catalog", zap.Int("datasets", len(c.entries)))
	return c, nil
}

// FetchCatalog downloads and parses the discovery document.
func FetchCatalog(ctx context.Context, opts ...ClientOption) (*Catalog, error) {
	opts = append([]ClientOption{WithBaseURL(CatalogURL)}, opts...)
	client := NewClient("", opts...)
	resp, err := client.Get(ctx, "", nil)
	if err != nil {
		return nil, err
	}
	return ParseCatalog(resp.Body)
}

// Len returns the number of datasets in the catalog.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Entries lists every dataset in the catalog.
func (c *Catalog) Entries() []CatalogEntry {
	return c.entries
}

// Contains reports whether the product key names a published dataset.
func (c *Catalog) Contains(key ProductKey) bool {
	return c.keys[key.id()]
}

// Validate returns a descriptive error when the key is unknown.
func (c *Catalog) Validate(key ProductKey) error {
	if c.Contains(key) {
		return nil
	}
	return eris.Errorf("census: %s is not a valid product key", key)
}

// FilterByTerm returns entries whose title contains every term,
// case-insensitively.
func (c *Catalog) FilterByTerm(terms ...string) []CatalogEntry {
	lowered := make([]string, len(terms))
	for i, t := range terms {
		lowered[i] = strings.ToLower(t)
	}

	var out []CatalogEntry
	for _, e := range c.entries {
		title := strings.ToLower(e.Title)
		all := true
		for _, t := range lowered {
			if !strings.Contains(title, t) {
				all = false
				break
			}
		}
		if all {
			out = append(out, e)
		}
	}
	return out
}

// vintageInt normalizes c_vintage, which the document serves as either a
// number or a string.
func vintageInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		out := 0
		for _, ch := range n {
			if ch < '0' || ch > '9' {
				return 0
			}
			out = out*10 + int(ch-'0')
		}
		return out
	default:
		return 0
	}
}
