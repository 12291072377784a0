package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"carelink/internal/config"
	"carelink/internal/service"
	"carelink/internal/transport/rest/handler"
	"carelink/internal/transport/rest/middleware"
	"carelink/internal/transport/ws"
)

// Container holds all dependencies for the router.
type Container struct {
	Config         *config.Config
	AuthService    *service.AuthService
	ChatService    *service.ChatService
	MeetingService *service.MeetingService
	MediaService   *service.MediaService
	WSHub          *ws.Hub
	Log            zerolog.Logger
}

// NewRouter creates the API router with all endpoints.
func NewRouter(c *Container) http.Handler {
	r := mux.NewRouter()

	authHandler := handler.NewAuthHandler(c.AuthService)
	convHandler := handler.NewConversationHandler(c.ChatService)
	meetingHandler := handler.NewMeetingHandler(c.MeetingService)
	mediaHandler := handler.NewMediaHandler(c.MediaService)
	wsHandler := ws.NewHandler(c.WSHub, c.AuthService, c.ChatService, c.MeetingService, c.Log)

	authMW := middleware.NewAuthMiddleware(c.AuthService)

	r.Use(corsMiddleware(c.Config.CORSOrigins))

	v1 := r.PathPrefix("/v1").Subrouter()

	// Public routes
	v1.HandleFunc("/auth/login", authHandler.Login).Methods("POST", "OPTIONS")

	// WebSocket route (token in query param or bearer header)
	v1.HandleFunc("/ws", wsHandler.Serve).Methods("GET")

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// Uploaded media
	r.PathPrefix("/media/").Handler(
		http.StripPrefix("/media/", http.FileServer(http.Dir(c.Config.MediaDir))))

	// Authenticated routes
	auth := v1.NewRoute().Subrouter()
	auth.Use(authMW.RequireAuth)

	auth.HandleFunc("/conversations", convHandler.List).Methods("GET", "OPTIONS")
	auth.HandleFunc("/conversations/{id}/messages", convHandler.Messages).Methods("GET", "OPTIONS")
	auth.HandleFunc("/conversations/{id}/messages", convHandler.Send).Methods("POST", "OPTIONS")
	auth.HandleFunc("/chat/upload-media", mediaHandler.Upload).Methods("POST", "OPTIONS")

	auth.HandleFunc("/video-rooms/create", meetingHandler.Create).Methods("POST", "OPTIONS")
	auth.HandleFunc("/video-rooms/join/{id}", meetingHandler.Join).Methods("GET", "OPTIONS")
	auth.HandleFunc("/video-rooms/{id}/end", meetingHandler.End).Methods("POST", "OPTIONS")
	auth.HandleFunc("/video-rooms/{id}/leave", meetingHandler.Leave).Methods("POST", "OPTIONS")
	auth.HandleFunc("/video-rooms/validate-code/{code}", meetingHandler.ValidateCode).Methods("GET", "OPTIONS")
	auth.HandleFunc("/video-rooms/join-by-code", meetingHandler.JoinByCode).Methods("POST", "OPTIONS")
	auth.HandleFunc("/doctor-meetings", meetingHandler.List).Methods("GET", "OPTIONS")

	return r
}

func corsMiddleware(origins string) mux.MiddlewareFunc {
	if origins == "" {
		origins = "*"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origins)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
