package ingester

import (
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/polydash/ingestion/app/ingester/controller"
	"github.com/polydash/ingestion/app/ingester/types"
	"github.com/polydash/ingestion/pkg/utils"
)

// NewServer builds the HTTP server for app. PORT, when set, overrides the port of ADDR.
func NewServer(app *types.App) error {
	ctler := controller.NewController(app)
	router, err := ctler.NewRouter()
	if err != nil {
		return err
	}

	// use <ip>:<port> to bind to a specific interface or :<port> to bind to all interfaces
	addr := listenAddr(utils.Env("ADDR", ":3001"), utils.Env("PORT", ""))

	app.Server = &http.Server{Addr: addr, Handler: controller.WithCORS(router)}
	app.Logger.Info("Starting server", zap.String("addr", addr))

	return nil
}

func listenAddr(addr, port string) string {
	if port == "" {
		return addr
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = ""
	}
	return net.JoinHostPort(host, port)
}
