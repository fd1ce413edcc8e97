package logging

import (
	"log"
	"os"
)

func New() *log.Logger {
	return log.New(os.Stdout, "routeharness ", log.LstdFlags|log.LUTC)
}
