package handlers

import (
	"net/http"

	"github.com/xelth-com/invtrack/internal/websocket"
)

// serveWs subscribes the caller to change events of a department. Super
// admins without ?department= receive events of every department.
func (r *Router) serveWs(w http.ResponseWriter, req *http.Request) {
	if r.svc.Hub == nil {
		respondError(w, http.StatusServiceUnavailable, "events unavailable")
		return
	}
	user := caller(req)
	requested, err := queryUint(req, "department")
	if err != nil {
		r.fail(w, req, err)
		return
	}

	var dept uint
	if !user.IsSuperAdmin() || requested != 0 {
		if dept, err = user.ResolveDepartment(requested); err != nil {
			r.fail(w, req, err)
			return
		}
	}
	websocket.ServeWs(r.svc.Hub, w, req, dept)
}
