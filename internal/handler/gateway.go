package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
)

func (h *Handler) gatewayStatus(w http.ResponseWriter, r *http.Request) {
	st := h.session.Status()
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("state")
		e.Str(string(st.State))
		e.FieldStart("since")
		e.Str(st.Since.Format(time.RFC3339))
		e.FieldStart("attempts")
		e.Int(st.Attempts)
		if st.LastError != "" {
			e.FieldStart("last_error")
			e.Str(st.LastError)
		}
		if st.QR != "" {
			e.FieldStart("qr")
			e.Str(st.QR)
		}
		e.ObjEnd()
	})
}

func (h *Handler) gatewayReconnect(w http.ResponseWriter, r *http.Request) {
	zctx.From(r.Context()).Info("gateway reconnect requested")
	h.session.ForceReconnect(r.Context())
	writeJSON(w, http.StatusAccepted, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("status")
		e.Str("reconnecting")
		e.ObjEnd()
	})
}
