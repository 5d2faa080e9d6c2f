package db

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"os"
	"os/exec"
	"testing"

	"storefront-be/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubDriver accepts every connection and pings successfully.
type stubDriver struct{}

type stubConn struct{}

func (stubDriver) Open(string) (driver.Conn, error)  { return stubConn{}, nil }
func (stubConn) Prepare(string) (driver.Stmt, error) { return nil, errors.New("not supported") }
func (stubConn) Close() error                        { return nil }
func (stubConn) Begin() (driver.Tx, error)           { return nil, errors.New("not supported") }

func init() {
	sql.Register("db_test_stub", stubDriver{})
}

var _ DBTX = (*sql.DB)(nil)
var _ DBTX = (*sql.Tx)(nil)

func TestBuildDSN(t *testing.T) {
	cfg := &config.Config{
		DBHost:     "db.internal",
		DBUser:     "storefront",
		DBPassword: "s3cret",
		DBName:     "storefront",
		DBPort:     "6432",
	}

	assert.Equal(t,
		"host=db.internal user=storefront password=s3cret dbname=storefront port=6432 sslmode=disable",
		buildDSN(cfg))
}

func TestNewDatabase(t *testing.T) {
	tests := []struct {
		name    string
		driver  string
		cfg     *config.Config
		wantErr string
	}{
		{"stub driver connects", "db_test_stub", &config.Config{DBHost: "localhost"}, ""},
		{"unregistered driver", "no_such_driver", &config.Config{}, "failed to connect to DB"},
		{"unreachable postgres", "postgres", &config.Config{DBHost: "invalid_host", DBPort: "5432"}, "failed to ping DB"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := newDatabaseWithDriver(tt.cfg, tt.driver)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				assert.Nil(t, conn)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, conn.Close())
		})
	}
}

func TestInitDB_ExitsWhenUnreachable(t *testing.T) {
	if os.Getenv("STOREFRONT_INITDB_CHILD") == "1" {
		InitDB(&config.Config{DBHost: "invalid_host", DBPort: "5432"})
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestInitDB_ExitsWhenUnreachable")
	cmd.Env = append(os.Environ(), "STOREFRONT_INITDB_CHILD=1")
	err := cmd.Run()

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.False(t, exitErr.Success())
}
