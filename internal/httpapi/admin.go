package httpapi

import (
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// sweep runs the abandoned-order reaper once and reports what it did.
func (s *Server) sweep(w http.ResponseWriter, r *http.Request) {
	res := s.Sweeper.Sweep(r.Context())
	zctx.From(r.Context()).Info("Manual sweep",
		zap.String("actor", mustActor(r).UserID),
		zap.Int("errors", len(res.Errors)),
	)
	writeJSON(w, http.StatusOK, res)
}
