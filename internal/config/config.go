// Package config defines the pipeline document consumed by salesetl.
//
// A pipeline is one JSON or YAML file describing the four source extracts,
// the warehouse backend and runtime knobs. Environment variables prefixed with
// SALESETL override file values (see Load).
package config

// Default runtime values applied by ApplyDefaults.
const (
	DefaultFactChunkSize = 10000
	DefaultLoaderWorkers = 1
)

// Entity names used across the pipeline, in extraction order.
const (
	EntityStores    = "stores"
	EntityProducts  = "products"
	EntityCustomers = "customers"
	EntitySales     = "sales"
)

// Entities lists the four source entities in extraction order.
var Entities = []string{EntityStores, EntityProducts, EntityCustomers, EntitySales}

// Pipeline is the root configuration document.
type Pipeline struct {
	Job     string  `json:"job" yaml:"job" envconfig:"JOB" validate:"required"`
	Sources Sources `json:"sources" yaml:"sources" envconfig:"SOURCES"`
	Storage Storage `json:"storage" yaml:"storage" envconfig:"STORAGE"`
	Runtime Runtime `json:"runtime" yaml:"runtime" envconfig:"RUNTIME"`
	Report  Report  `json:"report" yaml:"report" envconfig:"REPORT"`
	Metrics Metrics `json:"metrics" yaml:"metrics" envconfig:"METRICS"`
	Tracing Tracing `json:"tracing" yaml:"tracing" envconfig:"TRACING"`
}

// Sources addresses the four raw extracts.
type Sources struct {
	Stores    Source `json:"stores" yaml:"stores" envconfig:"STORES"`
	Products  Source `json:"products" yaml:"products" envconfig:"PRODUCTS"`
	Customers Source `json:"customers" yaml:"customers" envconfig:"CUSTOMERS"`
	Sales     Source `json:"sales" yaml:"sales" envconfig:"SALES"`
}

// ByEntity returns the source configured for entity, or false for an unknown name.
func (s Sources) ByEntity(entity string) (Source, bool) {
	switch entity {
	case EntityStores:
		return s.Stores, true
	case EntityProducts:
		return s.Products, true
	case EntityCustomers:
		return s.Customers, true
	case EntitySales:
		return s.Sales, true
	}
	return Source{}, false
}

// Source is one addressable extract.
//
// Path accepts a local path, a file:// URL or an s3://bucket/key URL.
// Format is "csv" or "xlsx"; when empty it is inferred from the extension.
// Sheet selects the workbook sheet for xlsx (first sheet when empty).
type Source struct {
	Path    string  `json:"path" yaml:"path" envconfig:"PATH" validate:"required"`
	Format  string  `json:"format,omitempty" yaml:"format,omitempty" envconfig:"FORMAT" validate:"omitempty,oneof=csv xlsx"`
	Sheet   string  `json:"sheet,omitempty" yaml:"sheet,omitempty" envconfig:"SHEET"`
	Options Options `json:"options,omitempty" yaml:"options,omitempty" ignored:"true"`
}

// Storage selects the warehouse backend.
type Storage struct {
	// Backend kind: "postgres" | "sqlite" | "mssql" | "mysql"
	Kind string `json:"kind" yaml:"kind" envconfig:"KIND" validate:"required,oneof=postgres sqlite mssql mysql"`
	DSN  string `json:"dsn" yaml:"dsn" envconfig:"DSN" validate:"required"`

	// AutoCreate creates the star schema tables when they are missing.
	AutoCreate bool `json:"auto_create" yaml:"auto_create" envconfig:"AUTO_CREATE"`
}

// Runtime controls loading behavior.
type Runtime struct {
	FactChunkSize int      `json:"fact_chunk_size" yaml:"fact_chunk_size" envconfig:"FACT_CHUNK_SIZE" validate:"gte=0"`
	LoaderWorkers int      `json:"loader_workers" yaml:"loader_workers" envconfig:"LOADER_WORKERS" validate:"gte=0,lte=64"`
	LoadTimeout   Duration `json:"load_timeout" yaml:"load_timeout" envconfig:"LOAD_TIMEOUT"`

	// LockFile enables a cross-process run lock when non-empty.
	LockFile string `json:"lock_file" yaml:"lock_file" envconfig:"LOCK_FILE"`

	// DateLayouts are tried before the built-in layouts when parsing sale dates.
	DateLayouts []string `json:"date_layouts" yaml:"date_layouts" envconfig:"DATE_LAYOUTS"`
}

// Report configures run summary sinks.
type Report struct {
	Path string `json:"path" yaml:"path" envconfig:"PATH"`
	AMQP AMQP   `json:"amqp" yaml:"amqp" envconfig:"AMQP"`
}

// AMQP publishes the run summary to a RabbitMQ exchange when URL is set.
type AMQP struct {
	URL        string `json:"url" yaml:"url" envconfig:"URL" validate:"omitempty,url"`
	Exchange   string `json:"exchange" yaml:"exchange" envconfig:"EXCHANGE"`
	RoutingKey string `json:"routing_key" yaml:"routing_key" envconfig:"ROUTING_KEY"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	// Backend: "" | "none" | "datadog" | "pushgateway"
	Backend        string   `json:"backend" yaml:"backend" envconfig:"BACKEND" validate:"omitempty,oneof=none datadog pushgateway"`
	PushgatewayURL string   `json:"pushgateway_url" yaml:"pushgateway_url" envconfig:"PUSHGATEWAY_URL" validate:"omitempty,url"`
	Tags           string   `json:"tags" yaml:"tags" envconfig:"TAGS"`
	FlushEvery     Duration `json:"flush_every" yaml:"flush_every" envconfig:"FLUSH_EVERY"`
}

// Tracing selects the OpenTelemetry exporter.
type Tracing struct {
	// Exporter: "" | "none" | "stdout"
	Exporter string `json:"exporter" yaml:"exporter" envconfig:"EXPORTER" validate:"omitempty,oneof=none stdout"`
}

// ApplyDefaults fills zero-valued runtime knobs.
func (p *Pipeline) ApplyDefaults() {
	if p.Runtime.FactChunkSize <= 0 {
		p.Runtime.FactChunkSize = DefaultFactChunkSize
	}
	if p.Runtime.LoaderWorkers <= 0 {
		p.Runtime.LoaderWorkers = DefaultLoaderWorkers
	}
	if p.Report.AMQP.URL != "" && p.Report.AMQP.Exchange == "" {
		p.Report.AMQP.Exchange = "salesetl"
	}
	if p.Report.AMQP.URL != "" && p.Report.AMQP.RoutingKey == "" {
		p.Report.AMQP.RoutingKey = "run.completed"
	}
}
