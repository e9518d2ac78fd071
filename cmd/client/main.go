package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"civicreport/internal/api"
	"civicreport/internal/auth"
	"civicreport/internal/certs"
	"civicreport/internal/config"
	"civicreport/internal/crypto"
	"civicreport/internal/device"
	"civicreport/internal/gateway"
	"civicreport/internal/identity"
	"civicreport/internal/logging"
	"civicreport/internal/securestore"
	"civicreport/internal/session"
)

type options struct {
	cmd       string
	phone     string
	code      string
	name      string
	language  string
	city      string
	state     string
	ephemeral bool
}

func main() {
	var opts options
	configPath := flag.String("config", "config.yaml", "Path to YAML config (optional)")
	flag.StringVar(&opts.cmd, "cmd", "whoami", "Command: send-otp|sign-in|sign-up|onboard|whoami|logout")
	flag.StringVar(&opts.phone, "phone", "", "Phone number (send-otp, sign-in, sign-up)")
	flag.StringVar(&opts.code, "code", "", "Six digit OTP (sign-in, sign-up)")
	flag.StringVar(&opts.name, "name", "", "Full name (sign-up, onboard)")
	flag.StringVar(&opts.language, "language", "", "Preferred language (onboard)")
	flag.StringVar(&opts.city, "city", "", "City (onboard)")
	flag.StringVar(&opts.state, "state", "", "State (onboard)")
	flag.BoolVar(&opts.ephemeral, "ephemeral", false, "Keep the session in memory only")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	logger, closer, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	defer closer.Close()

	if err := run(context.Background(), cfg, logger, opts); err != nil {
		fmt.Println("Error:", err)
		closer.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, opts options) error {
	storage, err := openStorage(cfg, opts.ephemeral)
	if err != nil {
		return err
	}

	gwOpts := []gateway.Option{gateway.WithUserAgent(cfg.UserAgent), gateway.WithLogger(logger)}
	if cfg.CADir != "" {
		pool, skipped, err := certs.NewCertManager(cfg.CADir).Pool()
		if err != nil {
			return fmt.Errorf("load CA certificates: %w", err)
		}
		for _, cn := range skipped {
			logger.Warn("skipping expired CA certificate", "cn", cn)
		}
		gwOpts = append(gwOpts, gateway.WithRootCAs(pool))
	}

	backend := api.New(gateway.New(cfg.APIBaseURL, gwOpts...))
	idp := identity.New(cfg.IdentityURL, cfg.IdentityAnonKey, logger, gwOpts...)
	store := session.New(storage, session.WithRevoker(idp), session.WithLogger(logger))
	if err := store.Initialize(ctx); err != nil {
		fmt.Println("Warning: secure storage unavailable, continuing signed out")
	}
	flow := auth.NewFlow(backend, store, logger)

	switch opts.cmd {
	case "send-otp":
		if err := flow.RequestOTP(ctx, opts.phone); err != nil {
			return err
		}
		fmt.Println("OTP sent to", logging.MaskPhone(opts.phone))
	case "sign-in":
		sess, err := flow.SignIn(ctx, opts.phone, opts.code)
		if err := reportLogin(sess, err); err != nil {
			return err
		}
	case "sign-up":
		sess, err := flow.SignUp(ctx, opts.phone, opts.code, opts.name)
		if err := reportLogin(sess, err); err != nil {
			return err
		}
	case "onboard":
		sess, err := flow.CompleteOnboarding(ctx, api.Profile{
			FullName: opts.name,
			Language: opts.language,
			City:     opts.city,
			State:    opts.state,
		})
		if err != nil && !errors.Is(err, session.ErrPersistenceFailed) {
			return err
		}
		fmt.Println("Profile saved for", *sess.User.FullName)
		if err != nil {
			fmt.Println("Warning: profile not saved locally:", err)
		}
	case "whoami":
		return printState(store.Snapshot())
	case "logout":
		if err := flow.Logout(ctx); err != nil {
			return err
		}
		fmt.Println("Signed out.")
	default:
		return fmt.Errorf("unknown command %q", opts.cmd)
	}
	return nil
}

func openStorage(cfg config.Config, ephemeral bool) (securestore.Store, error) {
	if ephemeral {
		return securestore.NewMemoryStore(), nil
	}
	master, err := crypto.LoadOrCreateMasterKey(cfg.MasterKeyPath)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}
	fp, err := device.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("device fingerprint: %w", err)
	}
	return securestore.NewFileStore(cfg.StorageDir, master, fp)
}

// reportLogin treats a persistence failure as a warning: the session is
// active for this process but will not survive it.
func reportLogin(sess session.Session, err error) error {
	if err != nil && !errors.Is(err, session.ErrPersistenceFailed) {
		return err
	}
	fmt.Println("Signed in as", sess.User.ID)
	if err != nil {
		fmt.Println("Warning: session not saved, you will need to sign in again:", err)
	}
	if sess.User.NeedsOnboarding() {
		fmt.Println("Next: complete your profile with -cmd onboard -name \"Full Name\"")
	}
	return nil
}

type whoami struct {
	Route     string  `json:"route"`
	UserID    string  `json:"user_id,omitempty"`
	Phone     string  `json:"phone,omitempty"`
	FullName  *string `json:"full_name,omitempty"`
	ExpiresAt string  `json:"expires_at,omitempty"`
	Expired   bool    `json:"expired,omitempty"`
}

func printState(st session.State) error {
	out := whoami{Route: auth.Route(st).String()}
	if s := st.Session; s != nil {
		out.UserID = s.User.ID
		out.Phone = logging.MaskPhone(s.User.Phone)
		out.FullName = s.User.FullName
		if s.ExpiresAt > 0 {
			out.ExpiresAt = time.Unix(s.ExpiresAt, 0).UTC().Format(time.RFC3339)
		}
		out.Expired = s.Expired(time.Now())
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
