package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"hedgeengine/pkg/utils"
)

// Recovery catches a panic in any handler, logs it with its stack
// trace, and returns 500 instead of crashing the process.
func Recovery(next http.Handler) http.Handler {
	log := utils.L().WithComponent("api")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("panic in handler",
					utils.Any("panic", err),
					utils.String("stack", string(debug.Stack())))
				http.Error(w, fmt.Sprintf("internal server error: %v", err), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
