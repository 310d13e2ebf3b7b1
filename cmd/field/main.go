package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-field/internal/gateway"
	"github.com/joeblew999/plat-field/internal/logging"
	"github.com/joeblew999/plat-field/internal/server"
	"github.com/joeblew999/plat-field/internal/service"
)

// Options defines all CLI flags and env vars for the field server.
// Flags: --host, --port, --data-dir, --web-dir, --log-level, ...
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_CLIENT_SECRET, ...
type Options struct {
	Host      string `doc:"Host to bind to" default:"0.0.0.0"`
	Port      int    `doc:"Port to listen on" short:"p" default:"8087"`
	DataDir   string `doc:"Directory for the selection archive (empty keeps it in memory)" default:".data"`
	WebDir    string `doc:"Path to web/ directory" default:"web"`
	LogLevel  string `doc:"Log level: trace, debug, info, warn, error" default:"info"`
	LogFormat string `doc:"Log format: json or console" default:"console"`

	IdentityURL      string `doc:"Identity service token endpoint"`
	DelineationURL   string `doc:"Field delineation API endpoint"`
	DelineationToken string `doc:"Field delineation API token"`
	GeosysURL        string `doc:"Season field and imagery API base URL"`
	CreationURL      string `doc:"Field creation service endpoint (optional)"`
	ClientID         string `doc:"Identity client id"`
	ClientSecret     string `doc:"Identity client secret"`
	Username         string `doc:"Identity username"`
	Password         string `doc:"Identity password"`

	Timeout       time.Duration `doc:"Timeout for each remote call" default:"15s"`
	StatusTTL     time.Duration `doc:"How long status messages stay visible" default:"3s"`
	MapType       string        `doc:"Map type selected before a catalog loads" default:"NDVI"`
	CatalogMonths int           `doc:"Months of imagery searched for acquisitions" default:"3"`
}

func gatewayConfig(opts *Options) gateway.Config {
	cfg := gateway.DefaultConfig()
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.IdentityURL, opts.IdentityURL)
	set(&cfg.DelineationURL, opts.DelineationURL)
	set(&cfg.DelineationToken, opts.DelineationToken)
	set(&cfg.GeosysURL, opts.GeosysURL)
	set(&cfg.CreationURL, opts.CreationURL)
	set(&cfg.ClientID, opts.ClientID)
	set(&cfg.ClientSecret, opts.ClientSecret)
	set(&cfg.Username, opts.Username)
	set(&cfg.Password, opts.Password)
	if opts.Timeout > 0 {
		cfg.Timeout = opts.Timeout
	}
	if opts.CatalogMonths > 0 {
		cfg.CatalogMonths = opts.CatalogMonths
	}
	return cfg
}

func newServer(opts *Options) (*server.Server, error) {
	logging.Init(logging.Config{Level: opts.LogLevel, Format: opts.LogFormat})

	svcOpts := service.DefaultOptions()
	if opts.StatusTTL > 0 {
		svcOpts.StatusTTL = opts.StatusTTL
	}
	if opts.MapType != "" {
		svcOpts.DefaultMapType = opts.MapType
	}

	return server.New(server.Config{
		Host:    opts.Host,
		Port:    strconv.Itoa(opts.Port),
		DataDir: opts.DataDir,
		WebDir:  opts.WebDir,
		Gateway: gatewayConfig(opts),
		Options: svcOpts,
	})
}

func mustServer(opts *Options) *server.Server {
	srv, err := newServer(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return srv
}

func main() {
	// A missing .env is fine; flags and the environment still apply.
	_ = godotenv.Load()

	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		var srv *server.Server
		var httpSrv *http.Server

		hooks.OnStart(func() {
			srv = mustServer(opts)
			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("plat-field API server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Data:    %s\n", opts.DataDir)
			fmt.Println()
			fmt.Printf("  Map:     %s/map\n", baseURL)
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Printf("  Metrics: %s/metrics\n", baseURL)
			fmt.Println()

			httpSrv = &http.Server{Addr: addr, Handler: srv, ReadHeaderTimeout: 10 * time.Second}
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Fatal().Err(err).Msg("server error")
			}
		})

		hooks.OnStop(func() {
			if httpSrv == nil {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpSrv.Shutdown(ctx); err != nil {
				logging.Warn().Err(err).Msg("shutdown")
			}
			if err := srv.Close(); err != nil {
				logging.Warn().Err(err).Msg("close archive")
			}
		})
	})

	cli.Root().Use = "field"
	cli.Root().Short = "Field selection and imagery overlay map server"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv := mustServer(opts)
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			var err error
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// probe subcommand: one-shot field selection against the live services
	probeCmd := &cobra.Command{
		Use:   "probe <lon> <lat>",
		Short: "Select the field at a location and print the resulting view as JSON",
		Args:  cobra.ExactArgs(2),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			lon, errLon := strconv.ParseFloat(args[0], 64)
			lat, errLat := strconv.ParseFloat(args[1], 64)
			if errLon != nil || errLat != nil {
				fmt.Fprintln(os.Stderr, "Error: lon and lat must be numbers")
				os.Exit(1)
			}

			srv := mustServer(opts)
			defer srv.Close()
			session := srv.Session()
			ctx := logging.ContextWithNewCorrelationID(cmd.Context())

			if err := session.Authenticate(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if err := session.SelectLocation(ctx, lon, lat); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			if maps, _ := cmd.Flags().GetBool("maps"); maps {
				if err := session.ShowMaps(ctx); err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(1)
				}
			}

			output, err := json.MarshalIndent(session.View(), "", "  ")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling view: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	probeCmd.Flags().Bool("maps", false, "Also show the map overlay for the selected field")
	cli.Root().AddCommand(probeCmd)

	cli.Run()
}
