// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tokengate/tokengate/internal/auth"
	"github.com/tokengate/tokengate/internal/document"
	"github.com/tokengate/tokengate/internal/store"
	"github.com/tokengate/tokengate/internal/web"
)

const signingSecret = "integration-secret-0123456789abcdef"

func startPostgres(ctx context.Context) (string, func()) {
	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("tokengate_test"),
		tcpostgres.WithUsername("tokengate"),
		tcpostgres.WithPassword("tokengate"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	Expect(err).NotTo(HaveOccurred())

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	Expect(err).NotTo(HaveOccurred())
	return dsn, func() { _ = container.Terminate(ctx) }
}

func startRedis(ctx context.Context) (string, func()) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	Expect(err).NotTo(HaveOccurred())

	endpoint, err := container.Endpoint(ctx, "")
	Expect(err).NotTo(HaveOccurred())
	return "redis://" + endpoint + "/0", func() { _ = container.Terminate(ctx) }
}

// stack is the API wired over a real store the same way serve wires it.
type stack struct {
	docs   document.Store
	server *httptest.Server
}

func newStack(ctx context.Context, url string) *stack {
	docs, err := store.Open(ctx, url, store.Options{
		Indexes:     []store.UniqueIndex{{Collection: auth.UsersCollection, Field: "email"}},
		AutoMigrate: true,
	})
	Expect(err).NotTo(HaveOccurred())

	users, err := document.NewRepository[auth.User](docs, auth.UsersCollection)
	Expect(err).NotTo(HaveOccurred())
	dir, err := auth.NewDirectory(users, auth.NewBcryptHasher(auth.WithCost(4)))
	Expect(err).NotTo(HaveOccurred())
	tokens, err := auth.NewTokenService([]byte(signingSecret), time.Hour)
	Expect(err).NotTo(HaveOccurred())
	gateway, err := auth.NewGateway(dir, tokens, auth.CookieTransport{})
	Expect(err).NotTo(HaveOccurred())
	api, err := web.NewAPI(gateway, dir, web.WithDevelopmentHeaders())
	Expect(err).NotTo(HaveOccurred())

	return &stack{docs: docs, server: httptest.NewServer(api.Routes())}
}

func (s *stack) close() {
	s.server.Close()
	s.docs.Close()
}

func (s *stack) post(path, body string) *http.Response {
	resp, err := s.server.Client().Post(s.server.URL+path, "application/json", strings.NewReader(body))
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func (s *stack) get(path string, cookie *http.Cookie) *http.Response {
	req, err := http.NewRequest(http.MethodGet, s.server.URL+path, nil)
	Expect(err).NotTo(HaveOccurred())
	if cookie != nil {
		req.AddCookie(cookie)
	}
	resp, err := s.server.Client().Do(req)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

func readJSON(resp *http.Response, v any) {
	defer resp.Body.Close()
	Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func sessionCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == auth.CookieName {
			return c
		}
	}
	return nil
}

type userBody struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// describeAuthFlow runs the full flow against whichever store start returns.
func describeAuthFlow(backend string, start func(context.Context) (string, func())) bool {
	return Describe("auth flow on "+backend, Ordered, func() {
		var (
			ctx       context.Context
			s         *stack
			terminate func()
		)

		BeforeAll(func() {
			ctx = context.Background()
			var url string
			url, terminate = start(ctx)
			s = newStack(ctx, url)
		})

		AfterAll(func() {
			if s != nil {
				s.close()
			}
			if terminate != nil {
				terminate()
			}
		})

		It("reports the store ready", func() {
			Expect(s.docs.Ping(ctx)).To(Succeed())
		})

		It("signs up, logs in and reads the session", func() {
			resp := s.post("/auth/users", `{"email":"alice@example.com","password":"correct-horse"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			var created userBody
			readJSON(resp, &created)
			Expect(created.ID).NotTo(BeEmpty())

			resp = s.post("/auth/login", `{"email":"alice@example.com","password":"correct-horse"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			cookie := sessionCookie(resp)
			drain(resp)
			Expect(cookie).NotTo(BeNil())

			resp = s.get("/auth/me", cookie)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var me userBody
			readJSON(resp, &me)
			Expect(me.ID).To(Equal(created.ID))
			Expect(me.Email).To(Equal("alice@example.com"))
		})

		It("rejects a wrong password without saying why", func() {
			resp := s.post("/auth/login", `{"email":"alice@example.com","password":"wrong-horse"}`)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			var body struct {
				Error string `json:"error"`
			}
			readJSON(resp, &body)
			Expect(body.Error).To(Equal("unauthorized"))
		})

		It("rejects a duplicate email", func() {
			resp := s.post("/auth/users", `{"email":"ALICE@example.com","password":"another-one"}`)
			defer drain(resp)
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})

		It("lets exactly one of many concurrent sign-ups win", func() {
			const racers = 12
			codes := make([]int, racers)
			var wg sync.WaitGroup
			for i := range racers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					resp := s.post("/auth/users", `{"email":"race@example.com","password":"correct-horse"}`)
					codes[i] = resp.StatusCode
					drain(resp)
				}()
			}
			wg.Wait()

			created, conflicts := 0, 0
			for _, code := range codes {
				switch code {
				case http.StatusCreated:
					created++
				case http.StatusConflict:
					conflicts++
				}
			}
			Expect(created).To(Equal(1))
			Expect(conflicts).To(Equal(racers - 1))
		})

		It("lists every user to an authenticated caller", func() {
			resp := s.post("/auth/login", `{"email":"alice@example.com","password":"correct-horse"}`)
			cookie := sessionCookie(resp)
			drain(resp)

			resp = s.get("/users", cookie)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var listed []userBody
			readJSON(resp, &listed)
			emails := make([]string, 0, len(listed))
			for _, u := range listed {
				emails = append(emails, u.Email)
			}
			Expect(emails).To(ConsistOf("alice@example.com", "race@example.com"))
		})
	})
}

var (
	_ = describeAuthFlow("postgres", startPostgres)
	_ = describeAuthFlow("redis", startRedis)
)
