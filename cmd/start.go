package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	reuseport "github.com/kavu/go_reuseport"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luma/chirp/client"
	"github.com/luma/chirp/internal/env"
	"github.com/luma/chirp/storage"
	"github.com/luma/chirp/transport"
)

var (
	// The user id to log in as
	user string

	// The presence to request at login
	statusName string

	// The host to serve the local status api on
	host string

	// The port to serve the local status api on
	httpPort string

	// Verbose logging
	debug bool
)

func init() {
	flags := StartCmd.PersistentFlags()

	flags.StringVarP(&user, "user", "u", "", "The user id to log in as")
	flags.StringVarP(&statusName, "status", "s", "online", "The presence to log in with")
	flags.StringVarP(&host, "host", "a", "127.0.0.1", "The host to serve the status api on")
	flags.StringVar(&httpPort, "http-port", "7472", "The port to serve the status api on")
	flags.BoolVar(&debug, "debug", false, "Enable debug logging")

	if err := StartCmd.MarkPersistentFlagRequired("user"); err != nil {
		panic(err)
	}
}

var StartCmd = &cobra.Command{
	Use:   "start",
	Short: "Log in and run the chirp client",
	Long: `Log in and run the chirp client

Usage
	chirp start --user 12345

The password is read from stdin. When the server demands a captcha the
image is written to the cache directory and the solution is read from
stdin as well. While running, a small status api is served locally.`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ctx, signalStop := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
		defer signalStop()

		log, err := env.MakeLogger(debug)
		if err != nil {
			return err
		}

		conf, err := env.LoadConfig(ctx)
		if err != nil {
			return err
		}

		httpTransport, err := transport.NewHTTP(transport.Options{
			UserAgent: conf.UserAgent,
			Trace:     conf.DebugHTTP,
			Log:       log.Named("transport"),
		})
		if err != nil {
			return err
		}

		dir := storage.NewInmemoryDirectory()

		avatars, err := storage.NewAvatarCache(conf.CacheDir, log.Named("avatars"))
		if err != nil {
			return err
		}

		c, err := client.New(client.Options{
			Transport: httpTransport,
			Directory: dir,
			Avatars:   avatars,
			AppID:     conf.AppID,
			Log:       log.Named("client"),
		})
		if err != nil {
			return err
		}

		router := setupRouter(conf.DebugHTTP, log)

		// Ping test
		router.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		router.GET("/session", func(g *gin.Context) {
			session := c.Session()
			g.JSON(http.StatusOK, gin.H{
				"state":  session.State.String(),
				"user":   session.UserID,
				"status": session.Status.String(),
			})
		})

		router.GET("/contacts", func(g *gin.Context) {
			g.JSON(http.StatusOK, dir.Peers())
		})

		router.GET("/groups", func(g *gin.Context) {
			g.JSON(http.StatusOK, dir.Groups())
		})

		// Reuseport lets a replacement process bind while the old one
		// drains
		listener, err := reuseport.Listen("tcp", net.JoinHostPort(host, httpPort))
		if err != nil {
			return err
		}

		s := &http.Server{Handler: router}

		// Initializing the server in a goroutine so that
		// it won't block the graceful shutdown handling below
		go func() {
			if err := s.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Http server errored", zap.Error(err))
			}
		}()

		go c.Run(ctx)
		go driveLogin(ctx, c, log)

		c.BeginChallenge(user)

		log.Info("Running",
			zap.String("user", user),
			zap.String("host", host),
			zap.String("httpPort", httpPort))

		// Listen for the interrupt signal.
		<-ctx.Done()

		// Restore default behavior on the interrupt signal and notify user of shutdown.
		signalStop()
		log.Info("Shutting down gracefully, press Ctrl+C again to force")

		c.Logout()

		// The context is used to inform the server it has 5 seconds to finish
		// the request it is currently handling
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.SetKeepAlivesEnabled(false)

		if err := s.Shutdown(shutdownCtx); err != nil {
			log.Error("Http server forced to shutdown", zap.Error(err))
		}

		if err := dir.Close(); err != nil {
			log.Error("Directory close failed", zap.Error(err))
		}

		log.Info("Exiting")
		return nil
	},
}

// driveLogin reacts to auth events with stdin prompts and logs the
// conversational traffic.
func driveLogin(ctx context.Context, c *client.Client, log *zap.Logger) {
	stdin := bufio.NewReader(os.Stdin)
	status := storage.ParseStatus(statusName)

	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-c.Events():
			switch ev := ev.(type) {
			case client.ChallengeClearedEvent:
				password := prompt(stdin, "password: ")
				c.SubmitLogin(user, password, "", status)

			case client.CaptchaEvent:
				fmt.Printf("captcha image saved to %s\n", ev.Path)
				code := prompt(stdin, "captcha: ")
				password := prompt(stdin, "password: ")
				c.SubmitLogin(user, password, code, status)

			case client.AuthFailedEvent:
				log.Warn("Login failed",
					zap.Int("code", ev.Code),
					zap.String("message", ev.Message))

			case client.SessionReadyEvent:
				log.Info("Logged in",
					zap.String("user", ev.UserID),
					zap.Stringer("status", ev.Status))

			case client.ContactsReadyEvent:
				log.Info("Directory loaded")

			case client.MessageEvent:
				fmt.Printf("[%s] %s: %s\n",
					ev.Message.Time.Format(time.Kitchen),
					ev.Message.SourceID,
					ev.Message.Content)

			case client.KickedEvent:
				log.Warn("Kicked from server", zap.String("reason", ev.Reason))
			}
		}
	}
}

func prompt(stdin *bufio.Reader, label string) string {
	fmt.Print(label)
	line, err := stdin.ReadString('\n')
	if err != nil {
		return ""
	}
	return line[:len(line)-1]
}

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - Logs to stdout.
	//   - RFC3339 with UTC time format.
	r.Use(ginzap.Ginzap(log, time.RFC3339, true))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}
