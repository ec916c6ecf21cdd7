package worker

import (
	"github.com/hibiken/asynq"
)

// NewServer creates a new Asynq server for processing assessment tasks.
// Concurrency is modest on purpose: each assessment run fans out its own
// check goroutines internally, so stacking many runs multiplies load on
// the tenant APIs.
func NewServer(redisURL string) *asynq.Server {
	opt, err := ParseRedisURL(redisURL)
	if err != nil {
		panic("failed to parse Redis URL: " + err.Error())
	}

	return asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 4,
		},
	)
}

// Start starts the server with the given handlers
func Start(srv *asynq.Server, handlers map[string]asynq.HandlerFunc) error {
	mux := asynq.NewServeMux()
	for taskType, handler := range handlers {
		mux.HandleFunc(taskType, handler)
	}
	return srv.Start(mux)
}
