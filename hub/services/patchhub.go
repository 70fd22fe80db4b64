package services

import (
	"log"
	"net/http"
	"os"

	"patchhub/hub/auth"
	"patchhub/hub/storage"
	"patchhub/hub/utils"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

type PatchHub struct {
	user    UserService
	patch   PatchService
	message MessageService
	report  ReportService

	db *gorm.DB
}

func NewPatchHub(db *gorm.DB, store storage.ObjectStore, userAuth auth.IdentityProvider) PatchHub {
	notifier := Notifier{}

	return PatchHub{
		user: UserService{db: db, userAuth: userAuth},
		patch: PatchService{
			db:       db,
			store:    store,
			userAuth: userAuth,
		},
		message: MessageService{db: db, userAuth: userAuth, notifier: notifier},
		report:  ReportService{db: db, userAuth: userAuth, notifier: notifier},
		db:      db,
	}
}

func (h *PatchHub) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger: log.New(os.Stderr, "", log.LstdFlags), NoColor: false,
	}))

	r.Mount("/user", h.user.Routes())
	r.Mount("/patch", h.patch.Routes())
	r.Mount("/message", h.message.Routes())
	r.Mount("/moderation", h.report.Routes())

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteSuccess(w)
	})

	return r
}
