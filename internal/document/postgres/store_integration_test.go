// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tokengate Contributors

//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tokengate/tokengate/internal/document"
	"github.com/tokengate/tokengate/internal/document/postgres"
)

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

var _ = Describe("Postgres document store", Ordered, func() {
	var (
		ctx       context.Context
		store     *postgres.Store
		terminate func()
	)

	BeforeAll(func() {
		ctx = context.Background()
		var dsn string
		dsn, terminate = startPostgres(ctx)

		migrator, err := postgres.NewMigrator(dsn)
		Expect(err).NotTo(HaveOccurred())
		Expect(migrator.Up()).To(Succeed())

		version, dirty, err := migrator.Version()
		Expect(err).NotTo(HaveOccurred())
		Expect(dirty).To(BeFalse())
		Expect(version).To(BeEquivalentTo(2))
		Expect(migrator.Close()).To(Succeed())

		store, err = postgres.Open(ctx, dsn)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterAll(func() {
		if store != nil {
			store.Close()
		}
		if terminate != nil {
			terminate()
		}
	})

	newUser := func(email string) document.Fields {
		return document.Fields{"_id": ulid.Make().String(), "email": email, "password": "$2a$10$hash"}
	}

	Describe("repository over postgres", func() {
		It("creates, finds, updates and deletes", func() {
			repo, err := document.NewRepository[pgUser](store, "users")
			Expect(err).NotTo(HaveOccurred())

			created, err := repo.Create(ctx, pgUser{Email: "carol@example.com"})
			Expect(err).NotTo(HaveOccurred())

			found, err := repo.FindOne(ctx, document.Filter{"_id": created.ID})
			Expect(err).NotTo(HaveOccurred())
			Expect(found.Email).To(Equal("carol@example.com"))

			updated, err := repo.FindOneAndUpdate(ctx, document.ByID(created.ID), document.Update{"name": "Carol"})
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.Name).To(Equal("Carol"))
			Expect(updated.Email).To(Equal("carol@example.com"))

			_, ok, err := repo.FindOneAndDelete(ctx, document.ByID(created.ID))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			_, ok, err = repo.FindOneAndDelete(ctx, document.ByID(created.ID))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())

			_, err = repo.FindOne(ctx, document.ByID(created.ID))
			Expect(err).To(MatchError(document.ErrNotFound))
		})
	})

	Describe("unique email index", func() {
		It("rejects a second user with the same email", func() {
			Expect(store.Insert(ctx, "users", newUser("dave@example.com"))).To(Succeed())
			err := store.Insert(ctx, "users", newUser("dave@example.com"))
			Expect(err).To(MatchError(document.ErrDuplicate))
		})

		It("does not apply to other collections", func() {
			Expect(store.Insert(ctx, "audit", newUser("erin@example.com"))).To(Succeed())
			Expect(store.Insert(ctx, "audit", newUser("erin@example.com"))).To(Succeed())
		})

		It("lets exactly one concurrent insert win", func() {
			const workers = 8
			var wg sync.WaitGroup
			errs := make(chan error, workers)
			for range workers {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					errs <- store.Insert(ctx, "users", newUser("race@example.com"))
				}()
			}
			wg.Wait()
			close(errs)

			var ok, dup int
			for err := range errs {
				if err == nil {
					ok++
					continue
				}
				Expect(err).To(MatchError(document.ErrDuplicate))
				dup++
			}
			Expect(ok).To(Equal(1))
			Expect(dup).To(Equal(workers - 1))
		})
	})

	Describe("Find", func() {
		It("returns matches oldest first", func() {
			for _, team := range []string{"red", "blue", "red"} {
				doc := document.Fields{"_id": ulid.Make().String(), "team": team}
				Expect(store.Insert(ctx, "teams", doc)).To(Succeed())
			}
			red, err := store.Find(ctx, "teams", document.Filter{"team": "red"})
			Expect(err).NotTo(HaveOccurred())
			Expect(red).To(HaveLen(2))
		})
	})
})

type pgUser struct {
	ID    ulid.ULID `json:"_id"`
	Email string    `json:"email"`
	Name  string    `json:"name,omitempty"`
}

func (u pgUser) DocumentID() ulid.ULID { return u.ID }
