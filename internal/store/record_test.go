package store_test

import (
	"context"
	"os"
	"path/filepath"

	"github.com/kubev2v/doctrack/internal/config"
	"github.com/kubev2v/doctrack/internal/store"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"
)

var _ = Describe("record store", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
		dir    string
	)

	BeforeAll(func() {
		var err error
		dir, err = os.MkdirTemp("", "doctrack-store")
		Expect(err).To(BeNil())

		cfg, err := config.New()
		Expect(err).To(BeNil())
		cfg.Database.Type = "sqlite"
		cfg.Database.Name = filepath.Join(dir, "doctrack.db")

		db, err := store.InitDB(cfg)
		Expect(err).To(BeNil())
		gormdb = db
		s = store.NewStore(db)
		Expect(s.Migrate()).To(Succeed())
	})

	AfterAll(func() {
		s.Close()
		os.RemoveAll(dir)
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM records;")
	})

	Context("put", func() {
		It("creates and overwrites a record", func() {
			_, err := s.Record().Put(context.TODO(), "doctrack.activeJobId", "J1")
			Expect(err).To(BeNil())
			_, err = s.Record().Put(context.TODO(), "doctrack.activeJobId", "J2")
			Expect(err).To(BeNil())

			var count int
			tx := gormdb.Raw("SELECT COUNT(*) FROM records;").Scan(&count)
			Expect(tx.Error).To(BeNil())
			Expect(count).To(Equal(1))

			r, err := s.Record().Get(context.TODO(), "doctrack.activeJobId")
			Expect(err).To(BeNil())
			Expect(r.Value).To(Equal("J2"))
			Expect(r.UpdatedAt.IsZero()).To(BeFalse())
		})

		It("rejects an empty key", func() {
			_, err := s.Record().Put(context.TODO(), "", "x")
			Expect(err).To(MatchError(store.ErrEmptyKey))
		})
	})

	Context("get and delete", func() {
		It("returns ErrRecordNotFound for a missing key", func() {
			_, err := s.Record().Get(context.TODO(), "missing")
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})

		It("deletes idempotently", func() {
			_, err := s.Record().Put(context.TODO(), "k", "v")
			Expect(err).To(BeNil())

			Expect(s.Record().Delete(context.TODO(), "k")).To(Succeed())
			Expect(s.Record().Delete(context.TODO(), "k")).To(Succeed())

			count, err := s.Record().Count(context.TODO())
			Expect(err).To(BeNil())
			Expect(count).To(BeZero())
		})
	})

	Context("transactions", func() {
		It("rolls back every write of the transaction", func() {
			_, err := s.Record().Put(context.TODO(), "a", "1")
			Expect(err).To(BeNil())

			ctx, err := s.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())
			Expect(s.Record().Delete(ctx, "a")).To(Succeed())
			_, err = s.Record().Put(ctx, "b", "2")
			Expect(err).To(BeNil())
			_, err = store.Rollback(ctx)
			Expect(err).To(BeNil())

			r, err := s.Record().Get(context.TODO(), "a")
			Expect(err).To(BeNil())
			Expect(r.Value).To(Equal("1"))
			_, err = s.Record().Get(context.TODO(), "b")
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})

		It("commits every write of the transaction", func() {
			ctx, err := s.NewTransactionContext(context.TODO())
			Expect(err).To(BeNil())
			_, err = s.Record().Put(ctx, "a", "1")
			Expect(err).To(BeNil())
			_, err = s.Record().Put(ctx, "b", "2")
			Expect(err).To(BeNil())
			_, err = store.Commit(ctx)
			Expect(err).To(BeNil())

			count, err := s.Record().Count(context.TODO())
			Expect(err).To(BeNil())
			Expect(count).To(Equal(int64(2)))
		})
	})
})
