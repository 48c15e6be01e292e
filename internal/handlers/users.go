package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xelth-com/invtrack/internal/services/users"
)

func (r *Router) listUsers(w http.ResponseWriter, req *http.Request) {
	list, err := r.svc.Users.List(req.Context(), caller(req))
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

func (r *Router) createUser(w http.ResponseWriter, req *http.Request) {
	var in users.UserInput
	if err := decode(w, req, &in); err != nil {
		r.fail(w, req, err)
		return
	}
	u, err := r.svc.Users.Create(req.Context(), caller(req), in)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusCreated, u)
}

// updateUser keeps the stored password when the payload leaves it empty
func (r *Router) updateUser(w http.ResponseWriter, req *http.Request) {
	var in users.UserInput
	if err := decode(w, req, &in); err != nil {
		r.fail(w, req, err)
		return
	}
	u, err := r.svc.Users.Update(req.Context(), caller(req), mux.Vars(req)["id"], in)
	if err != nil {
		r.fail(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, u)
}

func (r *Router) deleteUser(w http.ResponseWriter, req *http.Request) {
	if err := r.svc.Users.Delete(req.Context(), caller(req), mux.Vars(req)["id"]); err != nil {
		r.fail(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
