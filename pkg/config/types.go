package config

type Config struct {
	Database DatabaseConfig `json:"database"`
	Import   ImportConfig   `json:"import"`
	Classify ClassifyConfig `json:"classify"`
	Influx   InfluxConfig   `json:"influx"`
}

type Secrets struct {
	SQL    SqlSecrets    `json:"sql"`
	Influx InfluxSecrets `json:"influx"`

	// Alternative to the SQL struct for postgres, designed to be used with heroku env variable
	DatabaseURL string `json:"databaseUrl" env:"DATABASE_URL"`
}

///////////////////////////////////////////////////////////////////////////////////////
// Database
///////////////////////////////////////////////////////////////////////////////////////

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

type DatabaseConfig struct {
	// postgres or sqlite
	Dialect string `json:"dialect"`
	// postgres database name
	Name string `json:"name"`
	// sqlite database file
	Path string `json:"path"`
	// rows per insert statement
	BatchSize int `json:"batchSize"`
}

type SqlSecrets struct {
	SqlHost     string `json:"sqlHost" env:"SQL_HOST"`
	SqlUsername string `json:"sqlUsername" env:"SQL_USERNAME"`
	SqlPassword string `json:"sqlPassword" env:"SQL_PASSWORD"`
}

///////////////////////////////////////////////////////////////////////////////////////
// Import
///////////////////////////////////////////////////////////////////////////////////////

type ImportConfig struct {
	// latin2, windows-1250 or utf-8
	Encoding        string `json:"encoding"`
	Delimiter       string `json:"delimiter"`
	DefaultCurrency string `json:"defaultCurrency"`
	// ignore, replace or abort
	ConflictPolicy string            `json:"conflictPolicy"`
	Columns        ColumnsConfig     `json:"columns"`
	Labels         LabelsConfig      `json:"labels"`
	CityFixes      map[string]string `json:"cityFixes"`
}

// ColumnsConfig names the statement columns read by position-independent header lookup.
// Blank header cells are addressed as "Unnamed: N".
type ColumnsConfig struct {
	OperationDate string `json:"operationDate"`
	ValueDate     string `json:"valueDate"`
	Type          string `json:"type"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Account       string `json:"account"`
}

// LabelsConfig holds the prefixes that mark free text cells and the markers inside them.
type LabelsConfig struct {
	Title           string `json:"title"`
	ReferenceNumber string `json:"referenceNumber"`
	Location        string `json:"location"`
	Address         string `json:"address"`
	City            string `json:"city"`
	Country         string `json:"country"`
	From            string `json:"from"`
	PhoneTransfer   string `json:"phoneTransfer"`
}

///////////////////////////////////////////////////////////////////////////////////////
// Classification
///////////////////////////////////////////////////////////////////////////////////////

type ClassifyConfig struct {
	// cron spec used by the watch command
	Schedule   string `json:"schedule"`
	SampleSize int    `json:"sampleSize"`
}

///////////////////////////////////////////////////////////////////////////////////////
// Influx
///////////////////////////////////////////////////////////////////////////////////////

type InfluxConfig struct {
	Database          string `json:"database"`
	MeasurementPrefix string `json:"measurementPrefix"`
}

type InfluxSecrets struct {
	InfluxEndpoint string `json:"influxEndpoint" env:"INFLUX_ENDPOINT"`
	InfluxUsername string `json:"influxUsername" env:"INFLUX_USERNAME"`
	InfluxPassword string `json:"influxPassword" env:"INFLUX_PASSWORD"`
}
