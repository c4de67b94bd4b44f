// Package workspace holds the server-side source of truth for shared files:
// the registry of path→content, the folder-scoped permission rules, the
// per-file edit locks, and the audit trail of accepted edits.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hyperide/backend/internal/auth"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	welcomePath    = FolderAdmin + "/welcome.txt"
	welcomeContent = "Welcome to the Admin Dashboard!\n// System operational."
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError wraps a registry failure with a dotted operation code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew  = "workspace.service.new"
	opCreateFile  = "workspace.create_file"
	opDeleteFile  = "workspace.delete_file"
	opListFiles   = "workspace.list_files"
	opLoadFile    = "workspace.load_file"
	opApplyEdit   = "workspace.apply_edit"
	opSeedWelcome = "workspace.seed_welcome"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues identifiers for audit records.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required by the registry.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service is the File Registry. All mutating operations are serialized by
// the caller's command delivery order; the internal mutex only guards the
// write-through cache and the lock table.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger

	mu    sync.Mutex
	cache map[string]string
	locks map[string]string
}

// NewService constructs the registry.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		cache:      make(map[string]string),
		locks:      make(map[string]string),
	}, nil
}

// Create registers an empty file at folder/name. Non-admin actors may only
// create inside their own folder; the admin folder requires the admin role.
// Re-creating an existing path is a no-op success, so callers still signal
// a file-list refresh.
func (s *Service) Create(ctx context.Context, name, folder string, actor Actor) error {
	path, err := NormalizePath(folder + "/" + name)
	if err != nil {
		return newServiceError(opCreateFile, "invalid_path", err)
	}

	if !s.mayWriteFolder(folder, actor) {
		return newServiceError(opCreateFile, "permission_denied",
			fmt.Errorf("%w: role %s cannot create in %s", ErrPermissionDenied, actor.Role, folder))
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&File{}).Where("path = ?", path).Count(&count).Error; err != nil {
		s.logError(opCreateFile, "exists_check_failed", err, zap.String("path", path))
		return newServiceError(opCreateFile, "exists_check_failed", err)
	}
	if count > 0 {
		return nil
	}

	record := File{
		Path:             path,
		Folder:           folder,
		Name:             name,
		Content:          "",
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opCreateFile, "insert_failed", err, zap.String("path", path))
		return newServiceError(opCreateFile, "insert_failed", err)
	}

	s.mu.Lock()
	s.cache[path] = ""
	s.mu.Unlock()

	s.logger.Info("file created", zap.String("path", path), zap.String("user", actor.User))
	return nil
}

// Delete removes a path from the registry. Admin role only. Deleting a
// missing path is a no-op success, matching registry call-order resolution
// of concurrent deletes.
func (s *Service) Delete(ctx context.Context, rawPath string, actor Actor) error {
	if !auth.IsAdmin(actor.Role) {
		return newServiceError(opDeleteFile, "permission_denied",
			fmt.Errorf("%w: delete requires admin role", ErrPermissionDenied))
	}
	path, err := NormalizePath(rawPath)
	if err != nil {
		return newServiceError(opDeleteFile, "invalid_path", err)
	}

	if err := s.db.WithContext(ctx).Where("path = ?", path).Delete(&File{}).Error; err != nil {
		s.logError(opDeleteFile, "delete_failed", err, zap.String("path", path))
		return newServiceError(opDeleteFile, "delete_failed", err)
	}

	s.mu.Lock()
	delete(s.cache, path)
	delete(s.locks, path)
	s.mu.Unlock()

	s.logger.Info("file deleted", zap.String("path", path), zap.String("user", actor.User))
	return nil
}

// List returns every registered path in ascending path order. Paths under
// the admin folder are visible to admin observers only.
func (s *Service) List(ctx context.Context, role string) ([]string, error) {
	var paths []string
	query := s.db.WithContext(ctx).Model(&File{}).Order("path ASC")
	if !auth.IsAdmin(role) {
		query = query.Where("folder <> ?", FolderAdmin)
	}
	if err := query.Pluck("path", &paths).Error; err != nil {
		s.logError(opListFiles, "query_failed", err)
		return nil, newServiceError(opListFiles, "query_failed", err)
	}
	return paths, nil
}

// Load returns the current content for a path, serving from the
// write-through cache when warm.
func (s *Service) Load(ctx context.Context, rawPath, role string) (string, error) {
	path, err := NormalizePath(rawPath)
	if err != nil {
		return "", newServiceError(opLoadFile, "invalid_path", err)
	}
	if strings.HasPrefix(path, FolderAdmin+"/") && !auth.IsAdmin(role) {
		return "", newServiceError(opLoadFile, "permission_denied",
			fmt.Errorf("%w: %s is admin-scoped", ErrPermissionDenied, path))
	}

	s.mu.Lock()
	if content, ok := s.cache[path]; ok {
		s.mu.Unlock()
		return content, nil
	}
	s.mu.Unlock()

	var record File
	err = s.db.WithContext(ctx).Where("path = ?", path).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", newServiceError(opLoadFile, "not_found", fmt.Errorf("%w: %s", ErrNotFound, path))
	}
	if err != nil {
		s.logError(opLoadFile, "query_failed", err, zap.String("path", path))
		return "", newServiceError(opLoadFile, "query_failed", err)
	}

	s.mu.Lock()
	s.cache[path] = record.Content
	s.mu.Unlock()
	return record.Content, nil
}

// ApplyEdit runs the server half of the edit protocol: permission and lock
// checks, then a whole-document replace with an audit record in the same
// transaction. The returned response is broadcast on the updates topic;
// rejected edits produce ERROR or LOCKED responses targeted at the actor
// and never mutate the registry.
func (s *Service) ApplyEdit(ctx context.Context, event EditEvent, actor Actor) (EditResponse, error) {
	path, err := NormalizePath(event.FileName)
	if err != nil {
		return EditResponse{
			Type:     ResponseTypeError,
			Content:  "Invalid file path.",
			User:     actor.User,
			FileName: event.FileName,
		}, nil
	}

	if strings.HasPrefix(path, FolderAdmin+"/") && !auth.IsAdmin(actor.Role) {
		return EditResponse{
			Type:     ResponseTypeError,
			Content:  "Access Denied.",
			User:     actor.User,
			FileName: path,
		}, nil
	}

	s.mu.Lock()
	owner := s.locks[path]
	if owner != "" && owner != actor.User && !auth.IsAdmin(actor.Role) {
		s.mu.Unlock()
		return EditResponse{
			Type:     ResponseTypeLocked,
			Content:  "Locked by " + owner,
			User:     actor.User,
			FileName: path,
		}, nil
	}
	if owner == "" {
		s.locks[path] = actor.User
	}
	s.mu.Unlock()

	folder, name := SplitPath(path)
	appliedAt := s.clock().UTC()

	changeID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opApplyEdit, "id_generation_failed", err, zap.String("path", path))
		return EditResponse{}, newServiceError(opApplyEdit, "id_generation_failed", err)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record := File{
			Path:             path,
			Folder:           folder,
			Name:             name,
			Content:          event.Content,
			UpdatedAtSeconds: appliedAt.Unix(),
		}
		if err := tx.Save(&record).Error; err != nil {
			return newServiceError(opApplyEdit, "save_failed", err)
		}
		audit := EditRecord{
			ChangeID:         changeID,
			UserName:         actor.User,
			Path:             path,
			AppliedAtSeconds: appliedAt.Unix(),
		}
		if err := tx.Create(&audit).Error; err != nil {
			return newServiceError(opApplyEdit, "audit_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logError(opApplyEdit, "transaction_failed", txErr,
			zap.String("path", path), zap.String("user", actor.User))
		return EditResponse{}, txErr
	}

	s.mu.Lock()
	s.cache[path] = event.Content
	s.mu.Unlock()

	return EditResponse{
		Type:     ResponseTypeUpdate,
		Content:  event.Content,
		User:     actor.User,
		FileName: path,
	}, nil
}

// LockOwner reports the current edit-lock owner for a path.
func (s *Service) LockOwner(path string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owner, ok := s.locks[path]
	return owner, ok
}

// SeedWelcomeFile ensures the admin welcome file exists at startup.
func (s *Service) SeedWelcomeFile(ctx context.Context) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&File{}).Where("path = ?", welcomePath).Count(&count).Error; err != nil {
		return newServiceError(opSeedWelcome, "exists_check_failed", err)
	}
	if count > 0 {
		return nil
	}
	record := File{
		Path:             welcomePath,
		Folder:           FolderAdmin,
		Name:             "welcome.txt",
		Content:          welcomeContent,
		UpdatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return newServiceError(opSeedWelcome, "insert_failed", err)
	}
	s.logger.Info("welcome file seeded", zap.String("path", welcomePath))
	return nil
}

func (s *Service) mayWriteFolder(folder string, actor Actor) bool {
	if auth.IsAdmin(actor.Role) {
		return true
	}
	if strings.EqualFold(folder, FolderAdmin) {
		return false
	}
	return folder == actor.User
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("workspace service error", attrs...)
}
