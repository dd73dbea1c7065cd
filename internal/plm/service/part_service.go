package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/holee9/plm-system-web-sub001/internal/plm/apperror"
	"github.com/holee9/plm-system-web-sub001/internal/plm/entity"
	"github.com/holee9/plm-system-web-sub001/internal/plm/repository"
)

// 零件号：大写字母、数字、连字符，1-50位
var partNumberPattern = regexp.MustCompile(`^[A-Z0-9-]{1,50}$`)

const partSearchCacheTTL = 30 * time.Second

// PartService 零件与修订服务
type PartService struct {
	partRepo    *repository.PartRepository
	projectRepo *repository.ProjectRepository
	rdb         *redis.Client
}

// NewPartService 创建零件服务
func NewPartService(partRepo *repository.PartRepository, projectRepo *repository.ProjectRepository, rdb *redis.Client) *PartService {
	return &PartService{
		partRepo:    partRepo,
		projectRepo: projectRepo,
		rdb:         rdb,
	}
}

// CreatePartRequest 创建零件请求
type CreatePartRequest struct {
	ProjectID   string `json:"project_id" binding:"required"`
	PartNumber  string `json:"part_number" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// UpdatePartRequest 更新零件请求。指针字段区分"未提供"与"清空"。
type UpdatePartRequest struct {
	Name         *string `json:"name"`
	Description  *string `json:"description"`
	Category     *string `json:"category"`
	Status       *string `json:"status"`
	RevisionNote string  `json:"revision_note"`
}

// PartListResult 零件列表结果
type PartListResult struct {
	Items      []entity.Part `json:"items"`
	Total      int64         `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
}

// Create 创建零件，并在同一事务内写入首个修订"A"
func (s *PartService) Create(ctx context.Context, userID string, req *CreatePartRequest) (*entity.Part, error) {
	if !partNumberPattern.MatchString(req.PartNumber) {
		return nil, apperror.Validationf("part number must match ^[A-Z0-9-]{1,50}$, got %q", req.PartNumber)
	}
	if l := utf8.RuneCountInString(strings.TrimSpace(req.Name)); l < 2 || l > 255 {
		return nil, apperror.Validationf("part name must be 2-255 characters")
	}

	if _, err := s.projectRepo.FindByID(ctx, req.ProjectID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.NotFound("project", req.ProjectID)
		}
		return nil, fmt.Errorf("find project: %w", err)
	}

	if _, err := s.partRepo.FindByNumber(ctx, req.ProjectID, req.PartNumber); err == nil {
		return nil, apperror.Validationf("part number %s already exists in project", req.PartNumber)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("check part number: %w", err)
	}

	now := time.Now()
	part := &entity.Part{
		ID:          uuid.New().String()[:32],
		ProjectID:   req.ProjectID,
		PartNumber:  req.PartNumber,
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		Category:    req.Category,
		Status:      entity.PartStatusDraft,
		CreatedBy:   userID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	rev := &entity.PartRevision{
		ID:           uuid.New().String()[:32],
		PartID:       part.ID,
		RevisionCode: "A",
		Description:  "Initial revision",
		CreatedBy:    userID,
		CreatedAt:    now,
	}

	if err := s.partRepo.CreateWithInitialRevision(ctx, part, rev); err != nil {
		return nil, fmt.Errorf("create part: %w", err)
	}

	s.invalidateSearchCache(ctx, part.ProjectID)
	return part, nil
}

// Update 更新零件。有实际字段变化时生成下一修订并记录字段级diff，
// diff为空则原样返回且不产生修订。
func (s *PartService) Update(ctx context.Context, id, userID string, req *UpdatePartRequest) (*entity.Part, error) {
	if req.Name != nil {
		if l := utf8.RuneCountInString(strings.TrimSpace(*req.Name)); l < 2 || l > 255 {
			return nil, apperror.Validationf("part name must be 2-255 characters")
		}
	}
	if req.Status != nil && !entity.IsValidPartStatus(*req.Status) {
		return nil, apperror.Validationf("invalid part status %q", *req.Status)
	}

	part, err := s.partRepo.UpdateWithRevision(ctx, id, userID, func(p *entity.Part) (entity.JSONB, string, error) {
		changes := entity.JSONB{}
		var fields []string

		apply := func(field, oldVal, newVal string, set func()) {
			if oldVal == newVal {
				return
			}
			changes[field] = map[string]interface{}{"old": oldVal, "new": newVal}
			fields = append(fields, field)
			set()
		}

		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			apply("name", p.Name, name, func() { p.Name = name })
		}
		if req.Description != nil {
			apply("description", p.Description, *req.Description, func() { p.Description = *req.Description })
		}
		if req.Category != nil {
			apply("category", p.Category, *req.Category, func() { p.Category = *req.Category })
		}
		if req.Status != nil && *req.Status != p.Status {
			if !entity.CanTransitionPartStatus(p.Status, *req.Status) {
				return nil, "", apperror.InvalidTransition(p.Status, *req.Status)
			}
			apply("status", p.Status, *req.Status, func() { p.Status = *req.Status })
		}

		if len(changes) == 0 {
			return nil, "", nil
		}
		description := req.RevisionNote
		if description == "" {
			description = "Updated " + strings.Join(fields, ", ")
		}
		return changes, description, nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.NotFound("part", id)
		}
		return nil, err
	}

	s.invalidateSearchCache(ctx, part.ProjectID)
	return part, nil
}

// Get 获取零件详情
func (s *PartService) Get(ctx context.Context, id string) (*entity.Part, error) {
	part, err := s.partRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.NotFound("part", id)
		}
		return nil, fmt.Errorf("find part: %w", err)
	}
	return part, nil
}

// List 获取零件列表
func (s *PartService) List(ctx context.Context, projectID string, page, pageSize int, filters map[string]interface{}) (*PartListResult, error) {
	parts, total, err := s.partRepo.List(ctx, projectID, page, pageSize, filters)
	if err != nil {
		return nil, fmt.Errorf("list parts: %w", err)
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	return &PartListResult{
		Items:      parts,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// Search 按零件号/名称搜索，结果短暂缓存
func (s *PartService) Search(ctx context.Context, projectID, query string, limit int) ([]entity.Part, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	cacheKey := fmt.Sprintf("parts:search:%s:%s:%d", projectID, query, limit)
	if cached, err := s.rdb.Get(ctx, cacheKey).Result(); err == nil {
		var parts []entity.Part
		if json.Unmarshal([]byte(cached), &parts) == nil {
			return parts, nil
		}
	}

	parts, err := s.partRepo.Search(ctx, projectID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search parts: %w", err)
	}

	if data, err := json.Marshal(parts); err == nil {
		s.rdb.Set(ctx, cacheKey, data, partSearchCacheTTL)
	}
	return parts, nil
}

// GetRevisionHistory 获取零件修订历史，按创建顺序（由构造保证亦为修订号顺序）
func (s *PartService) GetRevisionHistory(ctx context.Context, partID string) ([]entity.PartRevision, error) {
	if _, err := s.partRepo.FindByID(ctx, partID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.NotFound("part", partID)
		}
		return nil, fmt.Errorf("find part: %w", err)
	}
	return s.partRepo.ListRevisions(ctx, partID)
}

// invalidateSearchCache 零件变化后清理搜索缓存。
// key按项目+查询串散开，这里用SCAN逐个删除。
func (s *PartService) invalidateSearchCache(ctx context.Context, projectID string) {
	pattern := fmt.Sprintf("parts:search:%s:*", projectID)
	iter := s.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		s.rdb.Del(ctx, iter.Val())
	}
}
