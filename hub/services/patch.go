package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"patchhub/hub/auth"
	"patchhub/hub/schema"
	"patchhub/hub/storage"
	"patchhub/hub/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Deletion may fan out to many object storage calls, so its transaction
// gets a generous budget instead of the ambient default.
const deleteTxnTimeout = 60 * time.Second

const maxResourceSize = 2 * 1024 * 1024 * 1024

type PatchService struct {
	db       *gorm.DB
	store    storage.ObjectStore
	userAuth auth.IdentityProvider
}

func (s *PatchService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/list", s.List)
	r.Get("/{patch_id}", s.Info)
	r.Put("/{patch_id}/view", s.IncrementView)

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)

		r.Post("/", s.Create)
		r.Post("/{patch_id}/resource", s.UploadResource)
		r.Get("/{patch_id}/resource/{resource_id}/download", s.DownloadResource)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.userAuth.AuthMiddleware()...)
		r.Use(auth.AdminOnly())

		r.Delete("/{patch_id}", s.Delete)
	})

	return r
}

type ResourceInfo struct {
	Id      uint   `json:"id"`
	Storage string `json:"storage"`
	Name    string `json:"name"`
	Link    string `json:"link"`
	Hash    string `json:"hash"`
	Size    int64  `json:"size"`
}

type PatchInfo struct {
	Id        uint           `json:"id"`
	UniqueId  string         `json:"unique_id"`
	Name      string         `json:"name"`
	Banner    string         `json:"banner"`
	View      int            `json:"view"`
	Download  int            `json:"download"`
	Username  string         `json:"username"`
	Tags      []string       `json:"tags"`
	Companies []string       `json:"companies"`
	Resources []ResourceInfo `json:"resources"`
}

func convertToPatchInfo(patch schema.Patch) PatchInfo {
	info := PatchInfo{
		Id:        patch.Id,
		UniqueId:  patch.UniqueId,
		Name:      patch.Name,
		Banner:    patch.Banner,
		View:      patch.View,
		Download:  patch.Download,
		Tags:      make([]string, 0, len(patch.Tags)),
		Companies: make([]string, 0, len(patch.Companies)),
		Resources: make([]ResourceInfo, 0, len(patch.Resources)),
	}
	if patch.User != nil {
		info.Username = patch.User.Name
	}
	for _, pt := range patch.Tags {
		if pt.Tag != nil {
			info.Tags = append(info.Tags, pt.Tag.Name)
		}
	}
	for _, pc := range patch.Companies {
		if pc.Company != nil {
			info.Companies = append(info.Companies, pc.Company.Name)
		}
	}
	for _, res := range patch.Resources {
		info.Resources = append(info.Resources, ResourceInfo{
			Id: res.Id, Storage: res.Storage, Name: res.Name,
			Link: res.Link, Hash: res.Hash, Size: res.Size,
		})
	}
	return info
}

func (s *PatchService) Info(w http.ResponseWriter, r *http.Request) {
	patchId, err := utils.URLParamUint(r, "patch_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	patch, err := schema.GetPatch(patchId, s.db.Preload("User"), true, true, true)
	if err != nil {
		if errors.Is(err, schema.ErrPatchNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	utils.WriteJsonResponse(w, convertToPatchInfo(patch))
}

func (s *PatchService) List(w http.ResponseWriter, r *http.Request) {
	var patches []schema.Patch
	result := s.db.
		Preload("Tags").Preload("Tags.Tag").
		Preload("Companies").Preload("Companies.Company").
		Preload("Resources").
		Preload("User").
		Find(&patches)
	if result.Error != nil {
		slog.Error("sql error listing patches", "error", result.Error)
		http.Error(w, "unable to list patches", http.StatusInternalServerError)
		return
	}

	infos := make([]PatchInfo, 0, len(patches))
	for _, patch := range patches {
		infos = append(infos, convertToPatchInfo(patch))
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *PatchService) IncrementView(w http.ResponseWriter, r *http.Request) {
	patchId, err := utils.URLParamUint(r, "patch_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result := s.db.Model(&schema.Patch{Id: patchId}).UpdateColumn("view", gorm.Expr("view + 1"))
	if result.Error != nil {
		slog.Error("sql error incrementing patch view count", "patch_id", patchId, "error", result.Error)
		http.Error(w, "unable to update view count", http.StatusInternalServerError)
		return
	}
	if result.RowsAffected != 1 {
		http.Error(w, schema.ErrPatchNotFound.Error(), http.StatusNotFound)
		return
	}

	utils.WriteSuccess(w)
}

type createPatchRequest struct {
	Name      string   `json:"name"`
	Banner    string   `json:"banner"`
	Tags      []string `json:"tags"`
	Companies []string `json:"companies"`
}

type createPatchResponse struct {
	PatchId  uint   `json:"patch_id"`
	UniqueId string `json:"unique_id"`
}

func attachTag(txn *gorm.DB, patchId uint, name string) error {
	var tag schema.Tag
	if err := txn.Where("name = ?", name).FirstOrCreate(&tag, schema.Tag{Name: name}).Error; err != nil {
		slog.Error("sql error creating tag", "tag", name, "error", err)
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	result := txn.Model(&schema.Tag{}).Where("id = ?", tag.Id).UpdateColumn("count", gorm.Expr("count + 1"))
	if result.Error != nil {
		slog.Error("sql error incrementing tag count", "tag", name, "error", result.Error)
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	if err := txn.Create(&schema.PatchTag{PatchId: patchId, TagId: tag.Id}).Error; err != nil {
		slog.Error("sql error creating patch tag relation", "tag", name, "error", err)
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	return nil
}

func attachCompany(txn *gorm.DB, patchId uint, name string) error {
	var company schema.Company
	if err := txn.Where("name = ?", name).FirstOrCreate(&company, schema.Company{Name: name}).Error; err != nil {
		slog.Error("sql error creating company", "company", name, "error", err)
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	result := txn.Model(&schema.Company{}).Where("id = ?", company.Id).UpdateColumn("count", gorm.Expr("count + 1"))
	if result.Error != nil {
		slog.Error("sql error incrementing company count", "company", name, "error", result.Error)
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	if err := txn.Create(&schema.PatchCompany{PatchId: patchId, CompanyId: company.Id}).Error; err != nil {
		slog.Error("sql error creating patch company relation", "company", name, "error", err)
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	return nil
}

func (s *PatchService) Create(w http.ResponseWriter, r *http.Request) {
	var params createPatchRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if strings.TrimSpace(params.Name) == "" {
		http.Error(w, "patch name is required", http.StatusUnprocessableEntity)
		return
	}

	user, err := auth.UserFromContext(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	patch := schema.Patch{
		UniqueId: strings.Split(uuid.NewString(), "-")[0],
		Name:     params.Name,
		Banner:   params.Banner,
		UserId:   user.Id,
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		result := txn.Create(&patch)
		if result.Error != nil {
			slog.Error("sql error creating patch", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		for _, name := range params.Tags {
			if err := attachTag(txn, patch.Id, name); err != nil {
				return err
			}
		}
		for _, name := range params.Companies {
			if err := attachCompany(txn, patch.Id, name); err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error creating patch: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, createPatchResponse{PatchId: patch.Id, UniqueId: patch.UniqueId})
}

func (s *PatchService) UploadResource(w http.ResponseWriter, r *http.Request) {
	patchId, err := utils.URLParamUint(r, "patch_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	fileName := r.URL.Query().Get("filename")
	if fileName == "" {
		fileName = uuid.NewString()
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxResourceSize))
	if err != nil {
		slog.Error("error reading resource upload body", "patch_id", patchId, "error", err)
		http.Error(w, "error reading uploaded resource", http.StatusBadRequest)
		return
	}

	hashBytes := sha256.Sum256(data)
	hash := hex.EncodeToString(hashBytes[:])
	key := storage.ResourceKey(patchId, hash, fileName)

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if _, err := schema.GetPatch(patchId, txn, false, false, false); err != nil {
			if errors.Is(err, schema.ErrPatchNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if err := s.store.Put(r.Context(), key, bytes.NewReader(data), int64(len(data)), r.Header.Get("Content-Type")); err != nil {
			slog.Error("error uploading resource to object storage", "patch_id", patchId, "key", key, "error", err)
			return CodedError(errors.New("error uploading resource"), http.StatusInternalServerError)
		}

		resource := schema.PatchResource{
			PatchId: patchId,
			Storage: schema.StorageS3,
			Name:    fileName,
			Link:    key,
			Hash:    hash,
			Size:    int64(len(data)),
		}
		if result := txn.Create(&resource); result.Error != nil {
			slog.Error("sql error creating patch resource", "patch_id", patchId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error uploading resource: %v", err), GetResponseCode(err))
		return
	}

	utils.WriteJsonResponse(w, map[string]string{"hash": hash, "key": key})
}

func (s *PatchService) DownloadResource(w http.ResponseWriter, r *http.Request) {
	patchId, err := utils.URLParamUint(r, "patch_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	resourceId, err := utils.URLParamUint(r, "resource_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var resource schema.PatchResource
	result := s.db.First(&resource, "id = ? AND patch_id = ?", resourceId, patchId)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			http.Error(w, "resource not found", http.StatusNotFound)
			return
		}
		slog.Error("sql error in get patch resource", "resource_id", resourceId, "error", result.Error)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}

	link := resource.Link
	if resource.Storage == schema.StorageS3 {
		key := storage.ResourceKey(patchId, resource.Hash, resource.Name)
		link, err = s.store.Presign(r.Context(), key, 15*time.Minute)
		if err != nil {
			slog.Error("error presigning resource download", "resource_id", resourceId, "error", err)
			http.Error(w, "error preparing resource download", http.StatusInternalServerError)
			return
		}
	}

	updateResult := s.db.Model(&schema.Patch{Id: patchId}).UpdateColumn("download", gorm.Expr("download + 1"))
	if updateResult.Error != nil {
		slog.Error("sql error incrementing download count", "patch_id", patchId, "error", updateResult.Error)
	}

	utils.WriteJsonResponse(w, map[string]string{"link": link})
}

// Delete removes a patch as a whole unit: its externally hosted resource
// files, its resource rows, its tag/company reference counts, its join
// rows, and finally the patch row itself. Everything runs inside one
// transaction so a failure at any step leaves the catalog untouched.
func (s *PatchService) Delete(w http.ResponseWriter, r *http.Request) {
	patchId, err := utils.URLParamUint(r, "patch_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	timer := prometheus.NewTimer(patchDeleteMetric)
	defer timer.ObserveDuration()

	// Resource rows are read before the transaction opens; they are
	// immutable once created, and reading them outside keeps the
	// transaction window as small as possible.
	var resources []schema.PatchResource
	result := s.db.Find(&resources, "patch_id = ?", patchId)
	if result.Error != nil {
		slog.Error("sql error loading patch resources", "patch_id", patchId, "error", result.Error)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), deleteTxnTimeout)
	defer cancel()

	err = s.db.WithContext(ctx).Transaction(func(txn *gorm.DB) error {
		patch, err := schema.GetPatch(patchId, txn, true, true, false)
		if err != nil {
			if errors.Is(err, schema.ErrPatchNotFound) {
				return CodedError(err, http.StatusNotFound)
			}
			return CodedError(err, http.StatusInternalServerError)
		}

		if err := s.deleteResources(ctx, txn, &patch, resources); err != nil {
			return err
		}

		if err := releaseTags(txn, &patch); err != nil {
			return err
		}
		if err := releaseCompanies(txn, &patch); err != nil {
			return err
		}

		// Join rows are removed explicitly rather than relying on the
		// store's cascade rules, keeping the atomicity guarantee
		// independent of dialect behavior.
		if result := txn.Delete(&schema.PatchTag{}, "patch_id = ?", patchId); result.Error != nil {
			slog.Error("sql error deleting patch tag relations", "patch_id", patchId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result := txn.Delete(&schema.PatchCompany{}, "patch_id = ?", patchId); result.Error != nil {
			slog.Error("sql error deleting patch company relations", "patch_id", patchId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		if result := txn.Delete(&schema.Patch{Id: patchId}); result.Error != nil {
			slog.Error("sql error deleting patch", "patch_id", patchId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})

	if err != nil {
		http.Error(w, fmt.Sprintf("error deleting patch: %v", err), GetResponseCode(err))
		return
	}

	patchesDeletedMetric.Inc()
	utils.WriteSuccess(w)
}

// deleteResources removes the backing objects of externally hosted
// resources and then the resource rows. Object deletions run
// concurrently; any failure aborts the whole operation so the rows are
// never dropped while the bytes may still need tracking. The tolerated
// inconsistency runs the other way only: a commit failure after object
// deletion leaves rows pointing at removed objects, which a retry of the
// whole deletion resolves.
func (s *PatchService) deleteResources(ctx context.Context, txn *gorm.DB, patch *schema.Patch, resources []schema.PatchResource) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, resource := range resources {
		if resource.Storage != schema.StorageS3 {
			continue
		}
		key := storage.ResourceKey(patch.Id, resource.Hash, resource.Name)
		group.Go(func() error {
			return s.store.Delete(groupCtx, key)
		})
	}
	if err := group.Wait(); err != nil {
		slog.Error("error deleting patch resources from object storage", "patch_id", patch.Id, "error", err)
		return CodedError(errors.New("error deleting patch resources"), http.StatusInternalServerError)
	}

	if result := txn.Delete(&schema.PatchResource{}, "patch_id = ?", patch.Id); result.Error != nil {
		slog.Error("sql error deleting patch resources", "patch_id", patch.Id, "error", result.Error)
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	return nil
}

// releaseTags decrements tag reference counts once per join row present,
// then garbage collects any referenced tag whose count is at or below
// zero. The comparison is <= 0 so a count that was already inconsistent
// still gets collected rather than lingering negative.
func releaseTags(txn *gorm.DB, patch *schema.Patch) error {
	if len(patch.Tags) == 0 {
		return nil
	}

	tagIds := make([]uint, 0, len(patch.Tags))
	for _, pt := range patch.Tags {
		result := txn.Model(&schema.Tag{}).Where("id = ?", pt.TagId).UpdateColumn("count", gorm.Expr("count - 1"))
		if result.Error != nil {
			slog.Error("sql error decrementing tag count", "tag_id", pt.TagId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		tagIds = append(tagIds, pt.TagId)
	}

	if result := txn.Where("id IN ? AND count <= 0", tagIds).Delete(&schema.Tag{}); result.Error != nil {
		slog.Error("sql error collecting unreferenced tags", "error", result.Error)
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	return nil
}

func releaseCompanies(txn *gorm.DB, patch *schema.Patch) error {
	if len(patch.Companies) == 0 {
		return nil
	}

	companyIds := make([]uint, 0, len(patch.Companies))
	for _, pc := range patch.Companies {
		result := txn.Model(&schema.Company{}).Where("id = ?", pc.CompanyId).UpdateColumn("count", gorm.Expr("count - 1"))
		if result.Error != nil {
			slog.Error("sql error decrementing company count", "company_id", pc.CompanyId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		companyIds = append(companyIds, pc.CompanyId)
	}

	if result := txn.Where("id IN ? AND count <= 0", companyIds).Delete(&schema.Company{}); result.Error != nil {
		slog.Error("sql error collecting unreferenced companies", "error", result.Error)
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}
	return nil
}
