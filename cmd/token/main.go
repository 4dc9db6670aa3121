// Command token prints a bearer token for a user, signed with YA_JWT_SECRET.
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/platform/bearer"
	"github.com/Wyydra/yacall/internal/platform/config"
)

type tokenConfig struct {
	JWTSecret string `env:"YA_JWT_SECRET,required"`
}

func main() {
	userFlag := flag.String("user", "", "user uuid; a new one is generated when empty")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	var cfg tokenConfig
	if err := config.ParseEnv(&cfg); err != nil {
		config.Exitf("token: %v", err)
	}

	user := domain.NewUserID()
	if *userFlag != "" {
		var err error
		if user, err = domain.ParseUserID(*userFlag); err != nil {
			config.Exitf("token: -user: %v", err)
		}
	}

	tok, err := bearer.Sign([]byte(cfg.JWTSecret), user, *ttl, time.Now())
	if err != nil {
		config.Exitf("token: %v", err)
	}
	fmt.Printf("%s\t%s\n", user, tok)
}
