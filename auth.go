/*
Copyright 2024 QZD Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package qzd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/qzd-finance/qzd/internal/apierror"
	"github.com/qzd-finance/qzd/model"
)

const minPasswordLength = 8

type userStore struct {
	mu      sync.Mutex
	users   map[string]*model.User
	byPhone map[string]string
	// cost is the bcrypt work factor.
	cost int
}

func newUserStore() *userStore {
	return &userStore{
		users:   make(map[string]*model.User),
		byPhone: make(map[string]string),
		cost:    bcrypt.DefaultCost,
	}
}

// create registers phone once. open runs under the store lock and returns the new
// user's account id.
func (s *userStore) create(phone, passwordHash string, at time.Time, open func() (string, error)) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byPhone[phone]; ok {
		return model.User{}, apierror.NewAPIError(apierror.ErrConflict, "phone number is already registered", nil)
	}
	accountID, err := open()
	if err != nil {
		return model.User{}, err
	}
	user := &model.User{
		UserID:       model.GenerateUUIDWithSuffix("usr"),
		Phone:        phone,
		PasswordHash: passwordHash,
		AccountID:    accountID,
		CreatedAt:    at,
	}
	s.users[user.UserID] = user
	s.byPhone[phone] = user.UserID
	return *user, nil
}

func (s *userStore) byPhoneNumber(phone string) (model.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byPhone[phone]
	if !ok {
		return model.User{}, false
	}
	return *s.users[id], true
}

// Claims are carried by session tokens.
type Claims struct {
	AccountID string `json:"account_id"`
	jwt.RegisteredClaims
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	Token     string    `json:"token"`
	UserID    string    `json:"user_id"`
	AccountID string    `json:"account_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Credentials are the phone number and password used to register and log in.
type Credentials struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

func (c Credentials) normalized() (Credentials, error) {
	c.Phone = strings.TrimSpace(c.Phone)
	if c.Phone == "" {
		return c, apierror.NewAPIError(apierror.ErrInvalidInput, "phone is required", nil)
	}
	if len(c.Password) < minPasswordLength {
		return c, apierror.NewAPIError(apierror.ErrInvalidInput,
			fmt.Sprintf("password must be at least %d characters", minPasswordLength), nil)
	}
	return c, nil
}

// Register creates a user with a funded BASIC account and returns a session token.
func (q *Qzd) Register(ctx context.Context, mctx MutationContext, creds Credentials) (*AuthResult, error) {
	result, err := ApplyIdempotency(ctx, q.security, mctx, func() (AuthResult, error) {
		creds, err := creds.normalized()
		if err != nil {
			return AuthResult{}, err
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), q.users.cost)
		if err != nil {
			return AuthResult{}, err
		}

		user, err := q.users.create(creds.Phone, string(hash), q.now().UTC(), func() (string, error) {
			account, err := q.openAccount(CreateAccountRequest{
				OwnerID:        creds.Phone,
				KYCLevel:       model.KYCBasic,
				OpeningBalance: q.config.Accounts.RegistrationBalance,
			})
			return account.AccountID, err
		})
		if err != nil {
			return AuthResult{}, err
		}
		return q.issueToken(user)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Login checks credentials and returns a fresh session token.
func (q *Qzd) Login(ctx context.Context, mctx MutationContext, creds Credentials) (*AuthResult, error) {
	result, err := ApplyIdempotency(ctx, q.security, mctx, func() (AuthResult, error) {
		user, ok := q.users.byPhoneNumber(strings.TrimSpace(creds.Phone))
		if !ok {
			return AuthResult{}, invalidCredentials()
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(creds.Password)); err != nil {
			return AuthResult{}, invalidCredentials()
		}
		return q.issueToken(user)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func invalidCredentials() error {
	return apierror.NewAPIError(apierror.ErrUnauthorized, "invalid phone or password", nil)
}

func (q *Qzd) issueToken(user model.User) (AuthResult, error) {
	now := q.now().UTC()
	expiresAt := now.Add(time.Duration(q.config.Auth.TokenTTLMinutes) * time.Minute)
	claims := &Claims{
		AccountID: user.AccountID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.UserID,
			ID:        model.GenerateUUIDWithSuffix("tok"),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(q.config.Auth.JWTSecret))
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{Token: token, UserID: user.UserID, AccountID: user.AccountID, ExpiresAt: expiresAt}, nil
}

// VerifyToken parses a session token issued by Register or Login.
func (q *Qzd) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(q.config.Auth.JWTSecret), nil
	}, jwt.WithTimeFunc(q.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apierror.NewAPIError(apierror.ErrUnauthorized, "token expired", nil)
		}
		return nil, apierror.Wrap(apierror.ErrUnauthorized, "invalid token", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apierror.NewAPIError(apierror.ErrUnauthorized, "invalid token", nil)
	}
	return claims, nil
}
