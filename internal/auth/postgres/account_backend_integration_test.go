// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package postgres_test

import (
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/auth/credstore"
	"github.com/holomush/gatekeeper/internal/auth/postgres"
)

var _ = Describe("AccountBackend", func() {
	var backend *postgres.AccountBackend

	BeforeEach(func() {
		backend = postgres.NewAccountBackend(newPool())
		DeferCleanup(func() {
			pool := newPool()
			defer pool.Close()
			_, err := pool.Exec(suiteCtx, `TRUNCATE accounts`)
			Expect(err).NotTo(HaveOccurred())
			Expect(backend.Close()).To(Succeed())
		})
	})

	It("round-trips an account", func() {
		created := time.Now().UTC().Truncate(time.Microsecond)
		Expect(backend.Insert(suiteCtx, &auth.Account{
			Username:       "alice",
			PasswordDigest: "digest",
			Email:          "alice@example.com",
			CreatedAt:      created,
		})).To(Succeed())

		accounts, err := backend.LoadAll(suiteCtx)
		Expect(err).NotTo(HaveOccurred())
		Expect(accounts).To(HaveLen(1))
		Expect(accounts[0].Username).To(Equal("alice"))
		Expect(accounts[0].CreatedAt).To(BeTemporally("==", created))
		Expect(accounts[0].LastLoginAt).To(BeNil())

		found, err := backend.Get(suiteCtx, "alice")
		Expect(err).NotTo(HaveOccurred())
		Expect(found.Email).To(Equal("alice@example.com"))

		_, err = backend.Get(suiteCtx, "nobody")
		Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
	})

	It("never overwrites an existing row on insert", func() {
		created := time.Now().UTC().Truncate(time.Microsecond)
		Expect(backend.Insert(suiteCtx, &auth.Account{Username: "bob", PasswordDigest: "v1", Email: "bob@example.com", CreatedAt: created})).To(Succeed())

		err := backend.Insert(suiteCtx, &auth.Account{Username: "bob", PasswordDigest: "v2", Email: "other@example.com", CreatedAt: created})
		Expect(errors.Is(err, auth.ErrDuplicateUser)).To(BeTrue())

		found, err := backend.Get(suiteCtx, "bob")
		Expect(err).NotTo(HaveOccurred())
		Expect(found.PasswordDigest).To(Equal("v1"))
		Expect(found.Email).To(Equal("bob@example.com"))
	})

	It("updates one column at a time", func() {
		created := time.Now().UTC().Truncate(time.Microsecond)
		Expect(backend.Insert(suiteCtx, &auth.Account{Username: "bob", PasswordDigest: "v1", Email: "bob@example.com", CreatedAt: created})).To(Succeed())

		login := created.Add(time.Minute)
		Expect(backend.UpdatePasswordDigest(suiteCtx, "bob", "v2")).To(Succeed())
		Expect(backend.UpdateLastLogin(suiteCtx, "bob", login)).To(Succeed())

		found, err := backend.Get(suiteCtx, "bob")
		Expect(err).NotTo(HaveOccurred())
		Expect(found.PasswordDigest).To(Equal("v2"))
		Expect(found.CreatedAt).To(BeTemporally("==", created))
		Expect(*found.LastLoginAt).To(BeTemporally("==", login))

		err = backend.UpdateLastLogin(suiteCtx, "nobody", login)
		Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
	})

	It("rejects rows that break table constraints", func() {
		err := backend.Insert(suiteCtx, &auth.Account{Username: "carol", CreatedAt: time.Now()})
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("accounts_digest_present"))
	})

	It("keeps stores sharing the database from overwriting each other", func() {
		server, err := credstore.Open(suiteCtx, backend)
		Expect(err).NotTo(HaveOccurred())
		cli, err := credstore.Open(suiteCtx, postgres.NewAccountBackend(newPool()))
		Expect(err).NotTo(HaveOccurred())
		defer cli.Close()

		_, err = server.Create(suiteCtx, "frank", "digest-frank", "frank@example.com")
		Expect(err).NotTo(HaveOccurred())

		_, err = cli.Create(suiteCtx, "frank", "digest-other", "other@example.com")
		Expect(errors.Is(err, auth.ErrDuplicateUser)).To(BeTrue())

		Expect(cli.UpdatePasswordDigest(suiteCtx, "frank", "digest-upgraded")).To(Succeed())
		Expect(server.UpdateLastLogin(suiteCtx, "frank", time.Now())).To(Succeed())

		stored, err := backend.Get(suiteCtx, "frank")
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.PasswordDigest).To(Equal("digest-upgraded"))
		Expect(stored.Email).To(Equal("frank@example.com"))
		Expect(stored.LastLoginAt).NotTo(BeNil())
	})

	It("backs a credential store that survives restart", func() {
		store, err := credstore.Open(suiteCtx, backend)
		Expect(err).NotTo(HaveOccurred())
		_, err = store.Create(suiteCtx, "dave", "digest", "dave@example.com")
		Expect(err).NotTo(HaveOccurred())

		reopened, err := credstore.Open(suiteCtx, postgres.NewAccountBackend(newPool()))
		Expect(err).NotTo(HaveOccurred())
		defer reopened.Close()

		exists, err := reopened.Exists(suiteCtx, "dave")
		Expect(err).NotTo(HaveOccurred())
		Expect(exists).To(BeTrue())
	})

	It("lets exactly one concurrent registration win", func() {
		store, err := credstore.Open(suiteCtx, backend)
		Expect(err).NotTo(HaveOccurred())

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := range 10 {
			wg.Add(1)
			go func(n int) {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := store.Create(suiteCtx, "erin", fmt.Sprintf("digest-%d", n), "erin@example.com")
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
					return
				}
				Expect(errors.Is(err, auth.ErrDuplicateUser)).To(BeTrue())
			}(i)
		}
		wg.Wait()
		Expect(wins).To(Equal(1))
	})
})
