package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// register регистрирует коллектор или возвращает уже зарегистрированный
// коллектор того же типа: несколько Marketplace в одном процессе делят
// одни и те же серии.
func register[C prometheus.Collector](registerer prometheus.Registerer, name string, collector C) C {
	err := registerer.Register(collector)
	if err == nil {
		return collector
	}

	var already prometheus.AlreadyRegisteredError
	if !errors.As(err, &already) {
		panic(fmt.Sprintf("register %s: %v", name, err))
	}
	existing, ok := already.ExistingCollector.(C)
	if !ok {
		panic(fmt.Sprintf("%s already registered as %T", name, already.ExistingCollector))
	}
	return existing
}
