package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Generates an admin bearer token for the /api/v1/admin endpoints.
// The secret must match admin.jwt_secret in the server configuration.
func main() {
	secret := flag.String("secret", os.Getenv("ADMIN_JWT_SECRET"), "admin JWT secret")
	subject := flag.String("subject", "operator", "token subject")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *secret == "" {
		fmt.Fprintln(os.Stderr, "missing secret: pass -secret or set ADMIN_JWT_SECRET")
		os.Exit(1)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  *subject,
		"role": "admin",
		"iat":  jwt.NewNumericDate(now),
		"nbf":  jwt.NewNumericDate(now),
		"exp":  jwt.NewNumericDate(now.Add(*ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(*secret))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error generating token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("============================================================")
	fmt.Println("Admin Token Generated")
	fmt.Println("============================================================")
	fmt.Println()
	fmt.Println(tokenString)
	fmt.Println()
	fmt.Printf("Subject: %s, expires %s\n", *subject, now.Add(*ttl).Format(time.RFC3339))
	fmt.Println()
	fmt.Printf("curl -H \"Authorization: Bearer $TOKEN\" http://localhost:8080/api/v1/admin/status\n")
}
