package extract

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	go_ora "github.com/sijms/go-ora/v2"

	"github.com/reconlab/recon-engine/pkg/apperrors"
	"github.com/reconlab/recon-engine/pkg/models"
)

// DriverAndDSN maps a source database config to a database/sql driver name
// and connection string. Connect and query timeouts are baked into the DSN
// where the driver supports it.
func DriverAndDSN(cfg models.DBConfig, connectTimeout, queryTimeout time.Duration) (string, string, error) {
	switch cfg.DBType {
	case models.DBTypeMySQL:
		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
		mc.DBName = cfg.Database
		mc.Timeout = connectTimeout
		mc.ReadTimeout = queryTimeout
		mc.WriteTimeout = queryTimeout
		mc.AllowNativePasswords = true
		return "mysql", mc.FormatDSN(), nil

	case models.DBTypePostgreSQL:
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=prefer connect_timeout=%d",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database,
			int(connectTimeout.Seconds()),
		)
		return "pgx", dsn, nil

	case models.DBTypeSQLServer:
		q := url.Values{}
		q.Set("database", cfg.Database)
		q.Set("dial timeout", strconv.Itoa(int(connectTimeout.Seconds())))
		q.Set("connection timeout", strconv.Itoa(int(queryTimeout.Seconds())))
		u := url.URL{
			Scheme:   "sqlserver",
			User:     url.UserPassword(cfg.User, cfg.Password),
			Host:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			RawQuery: q.Encode(),
		}
		return "sqlserver", u.String(), nil

	case models.DBTypeOracle:
		service := cfg.Service
		if service == "" {
			service = cfg.Database
		}
		dsn := go_ora.BuildUrl(cfg.Host, cfg.Port, service, cfg.User, cfg.Password, map[string]string{
			"TIMEOUT": strconv.Itoa(int(queryTimeout.Seconds())),
		})
		return "oracle", dsn, nil

	default:
		return "", "", fmt.Errorf("unsupported db_type %q: %w", cfg.DBType, apperrors.ErrInputInvalid)
	}
}
