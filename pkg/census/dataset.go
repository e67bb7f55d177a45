package census

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/singerep/censaurus/internal/cache"
	"github.com/singerep/censaurus/pkg/tigerweb"
)

// MetadataCache is where a Dataset parks the variable and geography
// metadata it fetches. Satisfied by *cache.Store.
type MetadataCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, body []byte) error
}

var _ MetadataCache = (*cache.Store)(nil)

// Dataset is one Census data product: a scoped API client plus the
// product's variable and geography metadata.
type Dataset struct {
	// Name is the product family, e.g. "ACS5".
	Name string

	// Year is the product vintage.
	Year int

	// Key is the product's discovery-catalog key.
	Key ProductKey

	// URLExtension is the path under /data serving the product.
	URLExtension string

	// MapService is the TIGERWeb map service matching the vintage.
	MapService string

	client      *Client
	geographies *GeographyCollection
	variables   *VariableCollection
	cache       MetadataCache

	tigerOpts []tigerweb.ClientOption
	areas     *tigerweb.AreaCollection
}

func (d *Dataset) String() string {
	return fmt.Sprintf("%s\n  %d supported geographies\n  %d variables",
		d.Key, d.geographies.Len(), d.variables.Len())
}

// DatasetOption configures dataset construction.
type DatasetOption func(*datasetConfig)

type datasetConfig struct {
	clientOpts []ClientOption
	tigerOpts  []tigerweb.ClientOption
	catalog    *Catalog
	cache      MetadataCache
}

// WithClientOptions passes options through to the underlying API client.
func WithClientOptions(opts ...ClientOption) DatasetOption {
	return func(c *datasetConfig) {
		c.clientOpts = append(c.clientOpts, opts...)
	}
}

// WithTIGERWebOptions passes options through to the TIGERWeb client backing
// area resolution.
func WithTIGERWebOptions(opts ...tigerweb.ClientOption) DatasetOption {
	return func(c *datasetConfig) {
		c.tigerOpts = append(c.tigerOpts, opts...)
	}
}

// WithCatalog validates the product key against the discovery catalog
// before any metadata is fetched.
func WithCatalog(cat *Catalog) DatasetOption {
	return func(c *datasetConfig) {
		c.catalog = cat
	}
}

// WithMetadataCache caches the variables.json and geography.json payloads
// between runs.
func WithMetadataCache(mc MetadataCache) DatasetOption {
	return func(c *datasetConfig) {
		c.cache = mc
	}
}

// NewDataset builds a Dataset for an arbitrary product. Prefer the product
// constructors (NewACS5, NewDecennialPL, ...) when one exists; use this for
// products without one, e.g. timeseries datasets.
func NewDataset(ctx context.Context, name string, year int, key ProductKey, urlExtension, mapService string, opts ...DatasetOption) (*Dataset, error) {
	var cfg datasetConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.catalog != nil {
		if err := cfg.catalog.Validate(key); err != nil {
			return nil, err
		}
	}

	d := &Dataset{
		Name:         name,
		Year:         year,
		Key:          key,
		URLExtension: urlExtension,
		MapService:   mapService,
		client:       NewClient(urlExtension, cfg.clientOpts...),
		cache:        cfg.cache,
		tigerOpts:    cfg.tigerOpts,
	}

	if err := d.loadGeographies(ctx); err != nil {
		return nil, err
	}
	if err := d.loadVariables(ctx); err != nil {
		return nil, err
	}

	zap.L().Info("dataset ready",
		zap.String("product", key.id()),
		zap.Int("geographies", d.geographies.Len()),
		zap.Int("variables", d.variables.Len()))
	return d, nil
}

// Geographies returns the dataset's supported geography hierarchies.
func (d *Dataset) Geographies() *GeographyCollection {
	return d.geographies
}

// Variables returns the dataset's variable index.
func (d *Dataset) Variables() *VariableCollection {
	return d.variables
}

// Groups returns the dataset's variable groups.
func (d *Dataset) Groups() *GroupCollection {
	return d.variables.Groups()
}

// Client returns the dataset's API client.
func (d *Dataset) Client() *Client {
	return d.client
}

// Areas returns the TIGERWeb area collection for the dataset's vintage,
// discovering the map service's layers on first call.
func (d *Dataset) Areas(ctx context.Context) (*tigerweb.AreaCollection, error) {
	if d.areas != nil {
		return d.areas, nil
	}
	areas, err := tigerweb.NewAreaCollection(ctx, tigerweb.NewClient(d.MapService, d.tigerOpts...))
	if err != nil {
		return nil, err
	}
	d.areas = areas
	return areas, nil
}

func (d *Dataset) loadGeographies(ctx context.Context) error {
	body, err := d.fetchMetadata(ctx, "geography.json")
	if err != nil {
		return err
	}
	var doc struct {
		FIPS []GeographyInfo `json:"fips"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return eris.Wrapf(err, "census: decode geography.json for %s", d.Key.id())
	}
	d.geographies = NewGeographyCollection(doc.FIPS)
	return nil
}

func (d *Dataset) loadVariables(ctx context.Context) error {
	body, err := d.fetchMetadata(ctx, "variables.json")
	if err != nil {
		return err
	}
	var doc struct {
		Variables map[string]VariableInfo `json:"variables"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return eris.Wrapf(err, "census: decode variables.json for %s", d.Key.id())
	}
	d.variables = NewVariableCollection(doc.Variables)
	return nil
}

// fetchMetadata fetches a metadata document through the cache when one is
// configured.
func (d *Dataset) fetchMetadata(ctx context.Context, name string) ([]byte, error) {
	key := d.URLExtension + "/" + name
	if d.cache != nil {
		if body, ok, err := d.cache.Get(ctx, key); err != nil {
			zap.L().Warn("metadata cache read failed", zap.String("key", key), zap.Error(err))
		} else if ok {
			zap.L().Debug("metadata cache hit", zap.String("key", key))
			return body, nil
		}
	}

	resp, err := d.client.Get(ctx, name, nil)
	if err != nil {
		return nil, err
	}
	if d.cache != nil {
		if err := d.cache.Put(ctx, key, resp.Body); err != nil {
			zap.L().Warn("metadata cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return resp.Body, nil
}

// --- product constructors ---

func acsKey(year int, product, extension string) ProductKey {
	key := ProductKey{fmt.Sprintf("%d", year), "acs", product}
	if extension != "" {
		key = append(key, extension)
	}
	return key
}

func acsExtension(year int, product, extension string) string {
	url := fmt.Sprintf("%d/acs/%s", year, product)
	if extension != "" {
		url += "/" + extension
	}
	return url
}

// NewACS builds an American Community Survey dataset for an explicit
// product code ("acs1", "acs5", "acsse", "flows", ...).
func NewACS(ctx context.Context, year int, product, extension string, opts ...DatasetOption) (*Dataset, error) {
	return NewDataset(ctx, "ACS", year,
		acsKey(year, product, extension),
		acsExtension(year, product, extension),
		fmt.Sprintf("tigerWMS_ACS%d", year),
		opts...)
}

// NewACS1 builds the ACS 1-Year Estimates dataset.
func NewACS1(ctx context.Context, year int, opts ...DatasetOption) (*Dataset, error) {
	return NewACS(ctx, year, "acs1", "", opts...)
}

// NewACS3 builds the ACS 3-Year Estimates dataset. Last published for 2013.
func NewACS3(ctx context.Context, year int, opts ...DatasetOption) (*Dataset, error) {
	return NewACS(ctx, year, "acs3", "", opts...)
}

// NewACS5 builds the ACS 5-Year Estimates dataset.
func NewACS5(ctx context.Context, year int, opts ...DatasetOption) (*Dataset, error) {
	return NewACS(ctx, year, "acs5", "", opts...)
}

// NewACSSupplemental builds the ACS 1-Year Supplemental Estimates dataset.
func NewACSSupplemental(ctx context.Context, year int, opts ...DatasetOption) (*Dataset, error) {
	return NewACS(ctx, year, "acsse", "", opts...)
}

// NewACSFlows builds the ACS Migration Flows dataset.
func NewACSFlows(ctx context.Context, year int, opts ...DatasetOption) (*Dataset, error) {
	return NewACS(ctx, year, "flows", "", opts...)
}

// NewACSLanguage builds the ACS Language Statistics dataset. Its product
// key sits directly under the vintage, without the acs element.
func NewACSLanguage(ctx context.Context, year int, opts ...DatasetOption) (*Dataset, error) {
	return NewDataset(ctx, "ACS Language", year,
		ProductKey{fmt.Sprintf("%d", year), "language"},
		fmt.Sprintf("%d/language", year),
		fmt.Sprintf("tigerWMS_ACS%d", year),
		opts...)
}

// NewPUMS builds the ACS Public Use Microdata Sample dataset for a 1- or
// 5-year duration.
func NewPUMS(ctx context.Context, year, duration int, opts ...DatasetOption) (*Dataset, error) {
	return NewACS(ctx, year, fmt.Sprintf("acs%d", duration), "pums", opts...)
}

// NewDecennial builds a Decennial Census dataset for an explicit product
// code ("pl", "sf1", "sf2").
func NewDecennial(ctx context.Context, year int, product string, opts ...DatasetOption) (*Dataset, error) {
	return NewDataset(ctx, "Decennial", year,
		ProductKey{fmt.Sprintf("%d", year), "dec", product},
		fmt.Sprintf("%d/dec/%s", year, product),
		fmt.Sprintf("tigerWMS_Census%d", year),
		opts...)
}

// NewDecennialPL builds the Decennial Redistricting Data dataset.
func NewDecennialPL(ctx context.Context, year int, opts ...DatasetOption) (*Dataset, error) {
	return NewDecennial(ctx, year, "pl", opts...)
}

// NewDecennialSF1 builds the Decennial Summary File 1 dataset. Last
// published for 2010.
func NewDecennialSF1(ctx context.Context, year int, opts ...DatasetOption) (*Dataset, error) {
	return NewDecennial(ctx, year, "sf1", opts...)
}

// NewDecennialSF2 builds the Decennial Summary File 2 dataset. Last
// published for 2010.
func NewDecennialSF2(ctx context.Context, year int, opts ...DatasetOption) (*Dataset, error) {
	return NewDecennial(ctx, year, "sf2", opts...)
}

// NewEconomic builds an Economic Census dataset for an explicit product
// code ("ecnbasic", "ewks", ...). The code may contain slashes.
func NewEconomic(ctx context.Context, year int, product string, opts ...DatasetOption) (*Dataset, error) {
	key := append(ProductKey{fmt.Sprintf("%d", year)}, strings.Split(product, "/")...)
	return NewDataset(ctx, "Economic Census", year,
		key,
		fmt.Sprintf("%d/%s", year, product),
		tigerweb.DefaultMapService,
		opts...)
}

// NewEconomicKeyStatistics builds the Economic Census Key Statistics
// dataset; the product code changed from ewks to ecnbasic in 2017.
func NewEconomicKeyStatistics(ctx context.Context, year int, opts ...DatasetOption) (*Dataset, error) {
	product := "ewks"
	if year >= 2017 {
		product = "ecnbasic"
	}
	return NewEconomic(ctx, year, product, opts...)
}

// NewEstimates builds the Population Estimates dataset, either the annual
// population product or the national monthly series.
func NewEstimates(ctx context.Context, year int, monthly bool, opts ...DatasetOption) (*Dataset, error) {
	product := "population"
	if monthly {
		product = "natmonthly"
	}
	return NewDataset(ctx, "Estimates", year,
		ProductKey{fmt.Sprintf("%d", year), "pep", product},
		fmt.Sprintf("%d/pep/%s", year, product),
		tigerweb.DefaultMapService,
		opts...)
}

// NewProjections builds a Population Projections dataset for an extension
// such as "pop", "births" or "deaths".
func NewProjections(ctx context.Context, year int, extension string, opts ...DatasetOption) (*Dataset, error) {
	if extension == "" {
		extension = "pop"
	}
	return NewDataset(ctx, "Projections", year,
		ProductKey{fmt.Sprintf("%d", year), "popproj", extension},
		fmt.Sprintf("%d/popproj/%s", year, extension),
		tigerweb.DefaultMapService,
		opts...)
}
