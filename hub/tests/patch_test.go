package tests

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"

	"patchhub/hub/schema"
)

func TestCreateAndGetPatch(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	patchId, err := user.createPatch("galgame-fix", []string{"walkthrough", "tool"}, []string{"acme"})
	if err != nil {
		t.Fatal(err)
	}

	info, err := user.patchInfo(patchId)
	if err != nil {
		t.Fatal(err)
	}
	if info.Name != "galgame-fix" || info.Username != "abc" {
		t.Fatalf("invalid patch info %v", info)
	}
	if len(info.Tags) != 2 || len(info.Companies) != 1 {
		t.Fatalf("invalid patch tags/companies %v", info)
	}
	if info.View != 0 {
		t.Fatalf("new patch should have no views, got %d", info.View)
	}

	if err := user.Put(fmt.Sprintf("/patch/%v/view", patchId)).Do(nil); err != nil {
		t.Fatal(err)
	}

	info, err = user.patchInfo(patchId)
	if err != nil {
		t.Fatal(err)
	}
	if info.View != 1 {
		t.Fatalf("expected 1 view, got %d", info.View)
	}

	patches, err := user.listPatches()
	if err != nil {
		t.Fatal(err)
	}
	if len(patches) != 1 || patches[0].Id != patchId {
		t.Fatalf("invalid patch list %v", patches)
	}

	_, err = user.patchInfo(99999)
	if err == nil || !strings.Contains(err.Error(), "未找到该游戏") {
		t.Fatalf("expected patch not found error, got %v", err)
	}
}

func TestUploadAndDownloadResource(t *testing.T) {
	env := setupTestEnv(t)

	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	patchId, err := user.createPatch("galgame-fix", nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	content := []byte("patch file contents")
	res, err := user.uploadResource(patchId, "fix.zip", bytes.NewReader(content))
	if err != nil {
		t.Fatal(err)
	}

	hashBytes := sha256.Sum256(content)
	hash := hex.EncodeToString(hashBytes[:])
	expectedKey := fmt.Sprintf("patch/%d/%v/fix.zip", patchId, hash)

	if res["hash"] != hash || res["key"] != expectedKey {
		t.Fatalf("invalid upload response %v", res)
	}
	if !env.store.HasObject(expectedKey) {
		t.Fatal("uploaded object missing from store")
	}

	info, err := user.patchInfo(patchId)
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Resources) != 1 || info.Resources[0].Hash != hash {
		t.Fatalf("invalid patch resources %v", info.Resources)
	}

	link, err := user.downloadResource(patchId, info.Resources[0].Id)
	if err != nil {
		t.Fatal(err)
	}
	if link != "https://storage.test/"+expectedKey {
		t.Fatalf("invalid download link %v", link)
	}

	info, err = user.patchInfo(patchId)
	if err != nil {
		t.Fatal(err)
	}
	if info.Download != 1 {
		t.Fatalf("expected 1 download, got %d", info.Download)
	}

	_, err = user.uploadResource(99999, "fix.zip", bytes.NewReader(content))
	if err == nil {
		t.Fatal("upload to missing patch should fail")
	}
}

// addLinkResource inserts a resource row whose file lives on an external
// site rather than in object storage.
func addLinkResource(t *testing.T, env *testEnv, patchId uint, name, link string) {
	t.Helper()
	resource := schema.PatchResource{
		PatchId: patchId,
		Storage: schema.StorageUser,
		Name:    name,
		Link:    link,
		Hash:    "",
	}
	if err := env.db.Create(&resource).Error; err != nil {
		t.Fatal(err)
	}
}

func tagCount(t *testing.T, env *testEnv, name string) (int, bool) {
	t.Helper()
	var tag schema.Tag
	result := env.db.Limit(1).Find(&tag, "name = ?", name)
	if result.Error != nil {
		t.Fatal(result.Error)
	}
	return tag.Count, result.RowsAffected != 0
}

func companyCount(t *testing.T, env *testEnv, name string) (int, bool) {
	t.Helper()
	var company schema.Company
	result := env.db.Limit(1).Find(&company, "name = ?", name)
	if result.Error != nil {
		t.Fatal(result.Error)
	}
	return company.Count, result.RowsAffected != 0
}

func TestDeletePatchCleansUpEverything(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	// "shared" is referenced by both patches, "exclusive" only by the
	// one being deleted.
	doomed, err := user.createPatch("doomed", []string{"shared", "exclusive"}, []string{"acme"})
	if err != nil {
		t.Fatal(err)
	}
	survivor, err := user.createPatch("survivor", []string{"shared"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	content := []byte("some patch data")
	res, err := user.uploadResource(doomed, "fix.zip", bytes.NewReader(content))
	if err != nil {
		t.Fatal(err)
	}
	addLinkResource(t, env, doomed, "mirror", "https://example.com/fix.zip")

	if err := user.deletePatch(doomed); err == nil {
		t.Fatal("regular users cannot delete patches")
	}

	if err := admin.deletePatch(doomed); err != nil {
		t.Fatal(err)
	}

	// Only the object-storage resource should have been deleted from the
	// store; the external link has no backing object.
	deleted := env.store.DeletedKeys()
	if len(deleted) != 1 || deleted[0] != res["key"] {
		t.Fatalf("expected exactly one store deletion for key %v, got %v", res["key"], deleted)
	}
	if env.store.HasObject(res["key"]) {
		t.Fatal("resource object should be removed from store")
	}

	_, err = user.patchInfo(doomed)
	if err == nil || !strings.Contains(err.Error(), "未找到该游戏") {
		t.Fatalf("deleted patch should not be found, got %v", err)
	}

	if count, exists := tagCount(t, env, "shared"); !exists || count != 1 {
		t.Fatalf("shared tag should survive with count 1, got exists=%v count=%d", exists, count)
	}
	if _, exists := tagCount(t, env, "exclusive"); exists {
		t.Fatal("exclusive tag should be garbage collected")
	}
	if _, exists := companyCount(t, env, "acme"); exists {
		t.Fatal("unreferenced company should be garbage collected")
	}

	var joinRows int64
	if err := env.db.Model(&schema.PatchTag{}).Where("patch_id = ?", doomed).Count(&joinRows).Error; err != nil {
		t.Fatal(err)
	}
	if joinRows != 0 {
		t.Fatalf("expected no tag join rows, got %d", joinRows)
	}

	var resourceRows int64
	if err := env.db.Model(&schema.PatchResource{}).Where("patch_id = ?", doomed).Count(&resourceRows).Error; err != nil {
		t.Fatal(err)
	}
	if resourceRows != 0 {
		t.Fatalf("expected no resource rows, got %d", resourceRows)
	}

	info, err := user.patchInfo(survivor)
	if err != nil {
		t.Fatal(err)
	}
	if len(info.Tags) != 1 || info.Tags[0] != "shared" {
		t.Fatalf("surviving patch should keep its tag, got %v", info.Tags)
	}
}

func TestDeletePatchRollsBackOnStorageFailure(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	patchId, err := user.createPatch("sturdy", []string{"exclusive"}, []string{"acme"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := user.uploadResource(patchId, "fix.zip", bytes.NewReader([]byte("data"))); err != nil {
		t.Fatal(err)
	}

	env.store.FailDeletes = true

	if err := admin.deletePatch(patchId); err == nil {
		t.Fatal("delete should fail when object storage is unavailable")
	}

	// Nothing may change when storage deletion fails: no partial
	// removal, no count decrement, no garbage collection.
	if _, err := user.patchInfo(patchId); err != nil {
		t.Fatalf("patch should still exist after failed delete: %v", err)
	}
	if count, exists := tagCount(t, env, "exclusive"); !exists || count != 1 {
		t.Fatalf("tag should be untouched, got exists=%v count=%d", exists, count)
	}
	if count, exists := companyCount(t, env, "acme"); !exists || count != 1 {
		t.Fatalf("company should be untouched, got exists=%v count=%d", exists, count)
	}

	var resourceRows int64
	if err := env.db.Model(&schema.PatchResource{}).Where("patch_id = ?", patchId).Count(&resourceRows).Error; err != nil {
		t.Fatal(err)
	}
	if resourceRows != 1 {
		t.Fatalf("resource rows should be untouched, got %d", resourceRows)
	}

	// The operation is retryable once storage recovers.
	env.store.FailDeletes = false
	if err := admin.deletePatch(patchId); err != nil {
		t.Fatal(err)
	}
	if _, err := user.patchInfo(patchId); err == nil {
		t.Fatal("patch should be gone after retry")
	}
}

func TestDeleteMissingPatch(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}

	err = admin.deletePatch(99999)
	if err == nil || !strings.Contains(err.Error(), "未找到该游戏") {
		t.Fatalf("expected patch not found error, got %v", err)
	}
}

func TestRepeatedTagReuseAcrossPatches(t *testing.T) {
	env := setupTestEnv(t)

	admin, err := env.adminClient()
	if err != nil {
		t.Fatal(err)
	}
	user, err := env.newUser("abc")
	if err != nil {
		t.Fatal(err)
	}

	var patchIds []uint
	for i := 0; i < 3; i++ {
		patchId, err := user.createPatch(fmt.Sprintf("patch%d", i), []string{"shared"}, nil)
		if err != nil {
			t.Fatal(err)
		}
		patchIds = append(patchIds, patchId)
	}

	if count, _ := tagCount(t, env, "shared"); count != 3 {
		t.Fatalf("expected count 3, got %d", count)
	}

	for i, patchId := range patchIds {
		if err := admin.deletePatch(patchId); err != nil {
			t.Fatal(err)
		}
		count, exists := tagCount(t, env, "shared")
		remaining := len(patchIds) - i - 1
		if remaining == 0 {
			if exists {
				t.Fatal("tag should be garbage collected after last reference")
			}
		} else if count != remaining {
			t.Fatalf("expected count %d, got %d", remaining, count)
		}
	}
}
