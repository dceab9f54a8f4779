package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/reversegremlin/harvest-market/internal/export"
	"github.com/reversegremlin/harvest-market/internal/ledger"
)

// NewServer creates an HTTP server with all routes configured.
func NewServer(port string, ledgerSvc *ledger.Service, exports *export.Service, adminAPIKey string) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      NewMux(ledgerSvc, exports, adminAPIKey),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewMux registers the ledger routes. Admin routes require the bearer key when one is set.
func NewMux(ledgerSvc *ledger.Service, exports *export.Service, adminAPIKey string) *http.ServeMux {
	handler := NewHandler(ledgerSvc, exports)

	admin := func(h http.HandlerFunc) http.Handler {
		if adminAPIKey == "" {
			return h
		}
		return requireAuth(adminAPIKey, h)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/rates", handler.GetRates)
	mux.HandleFunc("GET /api/v1/accounts/{id}/balance", handler.GetBalance)
	mux.HandleFunc("POST /api/v1/accounts/{id}/convert", handler.Convert)
	mux.HandleFunc("POST /api/v1/accounts/{id}/convert/validate", handler.ValidateConversion)
	mux.HandleFunc("POST /api/v1/accounts/{id}/normalize", handler.Normalize)
	mux.HandleFunc("GET /api/v1/accounts/{id}/transactions", handler.ListTransactions)

	mux.Handle("POST /api/v1/accounts/{id}", admin(handler.OpenAccount))
	mux.Handle("GET /api/v1/accounts/{id}/statement.xlsx", admin(handler.DownloadStatement))
	mux.Handle("GET /api/v1/admin/summary", admin(handler.GetSummary))

	return mux
}

func requireAuth(apiKey string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		token := strings.TrimPrefix(auth, "Bearer ")
		if !strings.HasPrefix(auth, "Bearer ") || subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
