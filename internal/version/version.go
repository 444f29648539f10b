// Package version хранит сведения о сборке, которые проставляются через -ldflags:
//
//	go build -ldflags "-X github.com/vladislavdragonenkov/marketplace/internal/version.version=v1.2.0"
package version

import "fmt"

// Service: имя сервиса в логах, health-ответах и User-Agent.
const Service = "marketplace"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info returns version information populated via -ldflags.
func Info() (v, c, d string) { return version, commit, date }

func GetVersion() string { return version }

func GetCommit() string { return commit }

func GetDate() string { return date }

func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}

// UserAgent возвращает User-Agent для исходящих запросов утилит.
func UserAgent(tool string) string {
	return fmt.Sprintf("%s-%s/%s", Service, tool, version)
}
