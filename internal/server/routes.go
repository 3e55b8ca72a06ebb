package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all application routes.
func (a *App) SetupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/ws", a.WebSocketHandler)
	mux.HandleFunc("/test", TestPageHandler)

	mux.HandleFunc("POST /api/auth/signup", a.Signup)
	mux.HandleFunc("POST /api/auth/signin", a.Signin)
	mux.HandleFunc("POST /api/auth/logout", a.Logout)
	mux.HandleFunc("GET /api/auth/check", a.protect(a.Check))

	mux.HandleFunc("GET /api/messages/users", a.protect(a.Users))
	mux.HandleFunc("GET /api/messages/{id}", a.protect(a.History))
	mux.HandleFunc("POST /api/messages/send/{id}", a.protect(a.Send))
	mux.HandleFunc("DELETE /api/messages/{id}", a.protect(a.Delete))
	return mux
}
