// Command promote-admin grants or revokes the administrator flag for the
// user with the given email.
//
//	promote-admin -email alice@example.com
//	promote-admin -email alice@example.com -revoke
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/idgate/idgate/internal/bootstrap"
	"github.com/idgate/idgate/internal/config"
	"github.com/idgate/idgate/internal/service"
	"github.com/sirupsen/logrus"
)

func main() {
	email := flag.String("email", "", "email of the user to update")
	revoke := flag.Bool("revoke", false, "remove the admin flag instead of granting it")
	flag.Parse()

	if strings.TrimSpace(*email) == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	logger := bootstrap.NewLogger(cfg.Log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	users, err := bootstrap.NewUserStore(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize user store")
	}

	if err := setAdmin(ctx, users, *email, !*revoke); err != nil {
		logger.WithError(err).Fatal("Failed to update admin flag")
	}

	fmt.Printf("admin=%t for %s\n", !*revoke, strings.TrimSpace(*email))
}

func setAdmin(ctx context.Context, users service.UserStore, email string, admin bool) error {
	email = strings.TrimSpace(email)

	user, err := users.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("no user with email %s", email)
	}
	if user.IsAdmin == admin {
		return nil
	}

	return users.SetAdmin(ctx, user.ID, admin)
}
