package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/echoclient/internal/api"
	"github.com/lalith-99/echoclient/internal/app"
	"github.com/lalith-99/echoclient/internal/apperr"
	"github.com/lalith-99/echoclient/internal/directory"
	"github.com/olekukonko/tablewriter"
	"go.uber.org/zap"
	"golang.org/x/term"
)

var errNotLoggedIn = errors.New("not logged in, run `echoclient login <username>` first")

func requireSession(a *app.App) error {
	snap := a.Session.Snapshot()
	if snap.Authenticated() {
		return nil
	}
	if snap.Err != nil {
		return fmt.Errorf("%w (%v)", errNotLoggedIn, snap.Err)
	}
	return errNotLoggedIn
}

func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}

// userMessage prefers the backend's detail text.
func userMessage(err error) string {
	if d := apperr.Detail(err); d != "" {
		return d
	}
	return err.Error()
}

func cmdLogin(ctx context.Context, a *app.App, username, password string) error {
	if password == "" {
		var err error
		if password, err = promptPassword(); err != nil {
			return err
		}
	}
	if err := a.Session.Login(ctx, username, password); err != nil {
		return errors.New(userMessage(err))
	}
	fmt.Printf("logged in as %s\n", a.Session.Snapshot().Identity.Username)
	return nil
}

func cmdSignup(ctx context.Context, a *app.App, username, email, password string) error {
	if password == "" {
		var err error
		if password, err = promptPassword(); err != nil {
			return err
		}
	}
	if err := a.Session.Signup(ctx, username, email, password); err != nil {
		return errors.New(userMessage(err))
	}
	fmt.Printf("account %s created, now run `echoclient login %s`\n", username, username)
	return nil
}

func cmdLogout(ctx context.Context, a *app.App) error {
	a.Session.Logout(ctx)
	fmt.Println("logged out")
	return nil
}

func cmdWhoami(a *app.App) error {
	if err := requireSession(a); err != nil {
		return err
	}
	id := a.Session.Snapshot().Identity
	fmt.Printf("%s (%s)", id.Username, id.ID)
	if id.Email != "" {
		fmt.Printf(" <%s>", id.Email)
	}
	fmt.Println()
	return nil
}

func cmdChannels(ctx context.Context, a *app.App) error {
	if err := requireSession(a); err != nil {
		return err
	}
	listing, err := a.Directory.Refresh(ctx)
	if err != nil {
		return errors.New(userMessage(err))
	}
	renderListing(os.Stdout, listing)
	return nil
}

func cmdJoin(ctx context.Context, a *app.App, id uuid.UUID) error {
	if err := requireSession(a); err != nil {
		return err
	}
	listing, err := a.Directory.Join(ctx, id)
	if err != nil {
		return errors.New(userMessage(err))
	}
	renderListing(os.Stdout, listing)
	return nil
}

func cmdLeave(ctx context.Context, a *app.App, id uuid.UUID) error {
	if err := requireSession(a); err != nil {
		return err
	}
	listing, err := a.Directory.Leave(ctx, id)
	if err != nil {
		// The refresh after a refused leave still shows where we stand.
		if len(listing.Mine)+len(listing.Joinable) > 0 {
			renderListing(os.Stdout, listing)
		}
		return errors.New(userMessage(err))
	}
	renderListing(os.Stdout, listing)
	return nil
}

func renderListing(w io.Writer, listing directory.Listing) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Name", "ID", "Status"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")

	for _, c := range listing.Mine {
		table.Append([]string{c.Name, c.ID.String(), "member"})
	}
	for _, c := range listing.Joinable {
		table.Append([]string{c.Name, c.ID.String(), "joinable"})
	}
	table.Render()
}

func cmdServe(ctx context.Context, a *app.App) error {
	router := api.NewRouter(api.Deps{
		Sessions:  a.Session,
		Directory: a.Directory,
		Engine:    a.Engine,
		Logger:    a.Logger,
	})

	srv := &http.Server{
		Addr:              "127.0.0.1:" + a.Config.BridgePort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("bridge listening",
			zap.String("addr", srv.Addr),
			zap.String("api_url", a.Config.APIURL),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("bridge: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.Logger.Info("bridge shutting down")
	err := srv.Shutdown(shutdownCtx)
	if errors.Is(err, context.DeadlineExceeded) {
		// Open event streams never go idle on their own.
		return srv.Close()
	}
	if err != nil {
		return fmt.Errorf("shutdown bridge: %w", err)
	}
	return nil
}
