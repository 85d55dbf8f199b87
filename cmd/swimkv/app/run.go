package app

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/criticalstack/swimkv/pkg/broadcast"
	"github.com/criticalstack/swimkv/pkg/config"
	"github.com/criticalstack/swimkv/pkg/httpapi"
	"github.com/criticalstack/swimkv/pkg/identity"
	"github.com/criticalstack/swimkv/pkg/log"
	"github.com/criticalstack/swimkv/pkg/runtime"
	"github.com/criticalstack/swimkv/pkg/store"
	"github.com/criticalstack/swimkv/pkg/swim"
)

func newRunCommand() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:           "run",
		Short:         "start a swimkv agent",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if err := v.Unmarshal(cfg); err != nil {
				return errors.Wrap(err, "cannot parse configuration")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runAgent(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.String("bind-address", config.DefaultBindAddress, "address to bind the UDP gossip transport and HTTP surface to")
	flags.String("identity", "", "identity to announce to peers (defaults to bind-address)")
	flags.String("announce-to", "", "address of an existing peer to join through")
	flags.String("data-dir", config.DefaultDataDir, "directory the document store persists its CRDT snapshot in")
	flags.Bool("broadcast", false, "send one demo broadcast of the current document snapshot right after startup")
	flags.Int("rest-port", config.DefaultRESTPort, "port the HTTP surface listens on")
	flags.String("discovery-type", "", "cloud discovery mechanism: aws/autoscaling-group, aws/tags, digitalocean/tags")
	flags.StringToString("discovery-extra-args", nil, "tag key/value pairs used by the discovery mechanism")
	flags.String("snapshot-file", "", "periodic snapshot backup destination URL (file://, s3://, https://*.digitaloceanspaces.com/...)")
	flags.String("snapshot-interval", "", "periodic snapshot backup interval, e.g. 5m")
	flags.Bool("snapshot-compression", false, "gzip-compress periodic snapshot backups")
	flags.String("snapshot-spaces-access-key", "", "DigitalOcean Spaces access key (only used when snapshot-file names a digitaloceanspaces.com destination)")
	flags.String("snapshot-spaces-secret-key", "", "DigitalOcean Spaces secret key (only used when snapshot-file names a digitaloceanspaces.com destination)")
	flags.String("snapshot-encryption-key", "", "64-character hex AES-256 key to encrypt periodic snapshot backups with (unencrypted if empty)")
	flags.Bool("tls-enabled", false, "serve the HTTP surface over TLS")
	flags.String("tls-ca-cert", "", "PEM-encoded CA certificate used to issue the HTTP server certificate")
	flags.String("tls-ca-key", "", "PEM-encoded CA private key used to issue the HTTP server certificate")

	_ = v.BindPFlag("bind-address", flags.Lookup("bind-address"))
	_ = v.BindPFlag("identity", flags.Lookup("identity"))
	_ = v.BindPFlag("announce-to", flags.Lookup("announce-to"))
	_ = v.BindPFlag("data-dir", flags.Lookup("data-dir"))
	_ = v.BindPFlag("broadcast", flags.Lookup("broadcast"))
	_ = v.BindPFlag("rest-port", flags.Lookup("rest-port"))
	_ = v.BindPFlag("discovery.type", flags.Lookup("discovery-type"))
	_ = v.BindPFlag("discovery.extra-args", flags.Lookup("discovery-extra-args"))
	_ = v.BindPFlag("snapshot.file", flags.Lookup("snapshot-file"))
	_ = v.BindPFlag("snapshot.interval", flags.Lookup("snapshot-interval"))
	_ = v.BindPFlag("snapshot.compression", flags.Lookup("snapshot-compression"))
	_ = v.BindPFlag("snapshot.spaces-access-key", flags.Lookup("snapshot-spaces-access-key"))
	_ = v.BindPFlag("snapshot.spaces-secret-key", flags.Lookup("snapshot-spaces-secret-key"))
	_ = v.BindPFlag("snapshot.encryption-key", flags.Lookup("snapshot-encryption-key"))
	_ = v.BindPFlag("tls.enabled", flags.Lookup("tls-enabled"))
	_ = v.BindPFlag("tls.ca-cert", flags.Lookup("tls-ca-cert"))
	_ = v.BindPFlag("tls.ca-key", flags.Lookup("tls-ca-key"))
	v.SetEnvPrefix("swimkv")
	v.AutomaticEnv()

	return cmd
}

func runAgent(ctx context.Context, cfg *config.Configuration) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	udpAddr, err := net.ResolveUDPAddr("udp", cfg.BindAddress)
	if err != nil {
		return errors.Wrapf(err, "invalid bind-address %#v", cfg.BindAddress)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return errors.Wrap(err, "cannot bind UDP gossip transport")
	}
	defer conn.Close()

	doc, err := store.Load(cfg.DataDir, cfg.Identity)
	if err != nil {
		return errors.Wrap(err, "cannot load document store")
	}

	self := identity.New(cfg.Identity)
	actor := runtime.New(self, conn, doc, swim.DefaultConfig())

	var announceTo *identity.ID
	if cfg.AnnounceTo != "" {
		id := identity.New(cfg.AnnounceTo)
		announceTo = &id
	} else if peer, err := discoverPeer(ctx, cfg); err != nil {
		log.Errorf("peer discovery failed: %v", err)
	} else if peer != "" {
		id := identity.New(peer)
		announceTo = &id
	}
	actor.Start(ctx, announceTo)

	if cfg.Broadcast {
		msg := &broadcast.GossipMessage{MessageType: broadcast.FullSync, Payload: doc.Snapshot()}
		actor.SendBroadcast(broadcast.SyncOperation(uuid.New()), msg)
	}

	backup, err := cfg.Snapshot.Setup(doc)
	if err != nil {
		return errors.Wrap(err, "cannot configure snapshot backup")
	}
	if backup != nil {
		go backup.Run(ctx)
	}

	tlsCfg, err := cfg.TLS.Setup(udpAddr.IP.String())
	if err != nil {
		return errors.Wrap(err, "cannot configure TLS")
	}

	server := httpapi.New(doc, actor, actor, rate.Limit(50))
	httpSrv := &http.Server{
		Addr:      restAddr(udpAddr.IP.String(), cfg.RESTPort),
		Handler:   server,
		TLSConfig: tlsCfg,
	}

	errCh := make(chan error, 1)
	go func() {
		if tlsCfg != nil {
			errCh <- httpSrv.ListenAndServeTLS("", "")
		} else {
			errCh <- httpSrv.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func restAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func discoverPeer(ctx context.Context, cfg *config.Configuration) (string, error) {
	getter, err := cfg.Discovery.Setup()
	if err != nil {
		return "", err
	}
	addrs, err := getter.GetAddrs(ctx)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", nil
	}
	return addrs[0], nil
}
