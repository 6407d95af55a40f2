package version

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info возвращает сведения о сборке, заданные через -ldflags.
func Info() (v, c, d string) { return version, commit, date }

// String форматирует сведения о сборке для логов и флага -version.
func String() string {
	return fmt.Sprintf("ordersaga version=%s commit=%s date=%s", version, commit, date)
}
