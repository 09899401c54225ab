// Package version хранит сведения о сборке, заполняемые через -ldflags:
//
//	go build -ldflags "-X github.com/vladislavdragonenkov/ordersvc/internal/version.version=v1.2.0"
package version

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build — сведения о текущей сборке.
type Build struct {
	Version string
	Commit  string
	Date    string
}

// Current возвращает сведения о сборке.
func Current() Build { return Build{Version: version, Commit: commit, Date: date} }

// GetVersion возвращает версию сборки.
func GetVersion() string { return version }

// Fields отдаёт сведения о сборке для стартового лога.
func (b Build) Fields() log.Fields {
	return log.Fields{"version": b.Version, "commit": b.Commit, "build_date": b.Date}
}

// UserAgent формирует User-Agent для исходящих запросов утилит.
func (b Build) UserAgent(component string) string {
	return fmt.Sprintf("ordersvc-%s/%s (%s)", component, b.Version, b.Commit)
}

func (b Build) String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", b.Version, b.Commit, b.Date)
}
