// Command authorize-user walks through the OAuth consent flow for one user
// and stores the resulting tokens on their account record, creating the
// account when it does not exist yet.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"gorm.io/gorm"

	"optout-sentry-go/internal/config"
	"optout-sentry-go/internal/db"
	"optout-sentry-go/internal/model"
)

func main() {
	clientID := os.Getenv("GMAIL_CLIENT_ID")
	clientSecret := os.Getenv("GMAIL_CLIENT_SECRET")
	if clientID == "" || clientSecret == "" {
		log.Fatal("Please set GMAIL_CLIENT_ID and GMAIL_CLIENT_SECRET environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	dbConn, err := db.Init(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	oauthConfig := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scopes:       []string{gmail.GmailReadonlyScope, gmail.GmailSendScope},
		Endpoint:     google.Endpoint,
		RedirectURL:  "http://localhost:8080/callback",
	}

	authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Printf("Go to the following link in your browser: %v\n", authURL)
	fmt.Println("\nAfter authorization, you'll be redirected to a URL. Copy the 'code' parameter from that URL.")

	var email string
	fmt.Print("\nEnter the user's email address: ")
	fmt.Scan(&email)

	var authCode string
	fmt.Print("Enter the authorization code: ")
	fmt.Scan(&authCode)

	tok, err := oauthConfig.Exchange(context.Background(), authCode)
	if err != nil {
		log.Fatalf("Unable to retrieve token from web: %v", err)
	}

	var user model.User
	err = dbConn.Where("email = ?", email).First(&user).Error
	switch {
	case err == nil:
		// Existing account, refresh the stored tokens.
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = model.User{Email: email}
	default:
		log.Fatalf("Failed to look up user: %v", err)
	}

	user.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		user.RefreshToken = tok.RefreshToken
	}
	if err := dbConn.Save(&user).Error; err != nil {
		log.Fatalf("Failed to store tokens: %v", err)
	}

	fmt.Printf("\nTokens stored for %s (user id %s)\n", user.Email, user.ID)
	fmt.Printf("Token expiry: %v\n", tok.Expiry)
}
