package jobs

import (
	"fmt"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

// recoverItem гасит панику при обработке одного опроса и помечает его как failed.
// Вызывается через defer, чтобы остальная пачка продолжила обрабатываться.
func recoverItem(outcome *string, logger *log.Entry) {
	if r := recover(); r != nil {
		logger.WithFields(log.Fields{
			"panic": fmt.Sprint(r),
			"stack": string(debug.Stack()),
		}).Error("Паника при обработке опроса, опрос пропущен")
		*outcome = outcomeFailed
	}
}
