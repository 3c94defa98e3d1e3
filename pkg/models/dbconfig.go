package models

// Supported database dialects.
const (
	DBTypeMySQL      = "mysql"
	DBTypePostgreSQL = "postgresql"
	DBTypeSQLServer  = "sqlserver"
	DBTypeOracle     = "oracle"
)

// ValidDBTypes contains the supported dialect identifiers.
var ValidDBTypes = []string{DBTypeMySQL, DBTypePostgreSQL, DBTypeSQLServer, DBTypeOracle}

// IsValidDBType checks membership in the supported dialect set.
func IsValidDBType(t string) bool {
	for _, v := range ValidDBTypes {
		if v == t {
			return true
		}
	}
	return false
}

// DBConfig describes a source or target database connection for extraction
// and NL query execution.
type DBConfig struct {
	DBType   string `json:"db_type"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	// Service is the Oracle service name; ignored by other dialects.
	Service string `json:"service,omitempty"`
}
