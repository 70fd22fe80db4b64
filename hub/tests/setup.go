package tests

import (
	"bytes"
	"testing"

	"patchhub/hub/auth"
	"patchhub/hub/schema"
	"patchhub/hub/services"

	"github.com/go-chi/chi/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testEnv struct {
	hub   services.PatchHub
	api   chi.Router
	db    *gorm.DB
	store *StoreStub
}

const (
	adminName     = "admin123"
	adminEmail    = "admin123@mail.com"
	adminPassword = "admin_password123"
)

func setupTestEnv(t *testing.T) *testEnv {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}

	err = db.AutoMigrate(schema.AllModels()...)
	if err != nil {
		t.Fatal(err)
	}

	store := newStoreStub()

	userAuth, err := auth.NewBasicIdentityProvider(
		db,
		auth.NewAuditLogger(new(bytes.Buffer)),
		auth.BasicProviderArgs{
			Secret:        []byte("290zcv02ai249"),
			AdminName:     adminName,
			AdminEmail:    adminEmail,
			AdminPassword: adminPassword,
		},
	)
	if err != nil {
		t.Fatal(err)
	}

	hub := services.NewPatchHub(db, store, userAuth)

	return &testEnv{hub: hub, api: hub.Routes(), db: db, store: store}
}

func (t *testEnv) newClient() client {
	return client{api: t.api}
}

func (t *testEnv) newUser(name string) (client, error) {
	c := t.newClient()
	login, err := c.signup(name, name+"@mail.com", name+"_password")
	if err != nil {
		return client{}, err
	}

	err = c.login(login)
	if err != nil {
		return client{}, err
	}

	return c, nil
}

func (t *testEnv) adminClient() (client, error) {
	c := t.newClient()
	err := c.login(loginInfo{Email: adminEmail, Password: adminPassword})
	return c, err
}

// newAdmin signs a user up and promotes them through the initial admin,
// so moderation fan-out tests can run against multiple admins.
func (t *testEnv) newAdmin(name string) (client, error) {
	c, err := t.newUser(name)
	if err != nil {
		return client{}, err
	}

	root, err := t.adminClient()
	if err != nil {
		return client{}, err
	}

	if err := root.promoteAdmin(c.userId); err != nil {
		return client{}, err
	}

	return c, nil
}
