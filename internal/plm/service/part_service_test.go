package service

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/holee9/plm-system-web-sub001/internal/plm/apperror"
	"github.com/holee9/plm-system-web-sub001/internal/plm/entity"
	"github.com/holee9/plm-system-web-sub001/internal/plm/repository"
	"github.com/holee9/plm-system-web-sub001/internal/plm/testutil"
)

func setupPartServiceTest(t *testing.T) (*gorm.DB, *PartService) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	svc := NewPartService(repos.Part, repos.Project, testutil.SetupTestRedis())

	testutil.SeedTestUser(t, db, "user-001", "Alice", "alice@test.com")
	testutil.SeedTestProject(t, db, "proj-001", "PRJ-001", "Test Project", "user-001")
	return db, svc
}

func strPtr(s string) *string {
	return &s
}

func TestPartCreateWithInitialRevision(t *testing.T) {
	_, svc := setupPartServiceTest(t)
	ctx := context.Background()

	part, err := svc.Create(ctx, "user-001", &CreatePartRequest{
		ProjectID:  "proj-001",
		PartNumber: "PN-1000",
		Name:       "Main Assembly",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if part.Status != entity.PartStatusDraft {
		t.Errorf("new part should be draft, got %s", part.Status)
	}

	revs, err := svc.GetRevisionHistory(ctx, part.ID)
	if err != nil {
		t.Fatalf("GetRevisionHistory failed: %v", err)
	}
	if len(revs) != 1 {
		t.Fatalf("expected 1 revision, got %d", len(revs))
	}
	if revs[0].RevisionCode != "A" {
		t.Errorf("initial revision should be A, got %s", revs[0].RevisionCode)
	}
	if revs[0].Description != "Initial revision" {
		t.Errorf("unexpected initial revision description: %s", revs[0].Description)
	}
}

func TestPartCreateValidation(t *testing.T) {
	_, svc := setupPartServiceTest(t)
	ctx := context.Background()

	var validationErr *apperror.ValidationError

	// Lowercase part number
	_, err := svc.Create(ctx, "user-001", &CreatePartRequest{
		ProjectID: "proj-001", PartNumber: "pn-1", Name: "Bad Number",
	})
	if !errors.As(err, &validationErr) {
		t.Errorf("lowercase part number should fail validation, got %v", err)
	}

	// Name too short
	_, err = svc.Create(ctx, "user-001", &CreatePartRequest{
		ProjectID: "proj-001", PartNumber: "PN-1", Name: "X",
	})
	if !errors.As(err, &validationErr) {
		t.Errorf("single-char name should fail validation, got %v", err)
	}

	// Unknown project
	var notFoundErr *apperror.NotFoundError
	_, err = svc.Create(ctx, "user-001", &CreatePartRequest{
		ProjectID: "no-such-project", PartNumber: "PN-1", Name: "Orphan",
	})
	if !errors.As(err, &notFoundErr) {
		t.Errorf("unknown project should be not found, got %v", err)
	}
}

func TestPartCreateDuplicateNumberRejected(t *testing.T) {
	_, svc := setupPartServiceTest(t)
	ctx := context.Background()

	req := &CreatePartRequest{ProjectID: "proj-001", PartNumber: "PN-2000", Name: "First"}
	if _, err := svc.Create(ctx, "user-001", req); err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	_, err := svc.Create(ctx, "user-001", &CreatePartRequest{
		ProjectID: "proj-001", PartNumber: "PN-2000", Name: "Second",
	})
	var validationErr *apperror.ValidationError
	if !errors.As(err, &validationErr) {
		t.Fatalf("duplicate part number should fail, got %v", err)
	}
}

func TestPartUpdateCreatesNextRevision(t *testing.T) {
	_, svc := setupPartServiceTest(t)
	ctx := context.Background()

	part, err := svc.Create(ctx, "user-001", &CreatePartRequest{
		ProjectID: "proj-001", PartNumber: "PN-3000", Name: "Bracket",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	updated, err := svc.Update(ctx, part.ID, "user-001", &UpdatePartRequest{
		Name: strPtr("Bracket v2"),
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Name != "Bracket v2" {
		t.Errorf("name not applied: %s", updated.Name)
	}

	revs, err := svc.GetRevisionHistory(ctx, part.ID)
	if err != nil {
		t.Fatalf("GetRevisionHistory failed: %v", err)
	}
	if len(revs) != 2 {
		t.Fatalf("expected 2 revisions after update, got %d", len(revs))
	}
	if revs[1].RevisionCode != "B" {
		t.Errorf("second revision should be B, got %s", revs[1].RevisionCode)
	}
	change, ok := revs[1].Changes["name"].(map[string]interface{})
	if !ok {
		t.Fatalf("revision B should record a name diff, got %v", revs[1].Changes)
	}
	if change["old"] != "Bracket" || change["new"] != "Bracket v2" {
		t.Errorf("unexpected diff: %v", change)
	}
}

func TestPartUpdateNoChangeNoRevision(t *testing.T) {
	_, svc := setupPartServiceTest(t)
	ctx := context.Background()

	part, err := svc.Create(ctx, "user-001", &CreatePartRequest{
		ProjectID: "proj-001", PartNumber: "PN-4000", Name: "Washer",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Same values again: no diff, no new revision
	if _, err := svc.Update(ctx, part.ID, "user-001", &UpdatePartRequest{
		Name: strPtr("Washer"),
	}); err != nil {
		t.Fatalf("no-op update failed: %v", err)
	}

	revs, _ := svc.GetRevisionHistory(ctx, part.ID)
	if len(revs) != 1 {
		t.Errorf("no-op update must not create a revision, got %d revisions", len(revs))
	}
}

func TestPartStatusTransition(t *testing.T) {
	_, svc := setupPartServiceTest(t)
	ctx := context.Background()

	part, err := svc.Create(ctx, "user-001", &CreatePartRequest{
		ProjectID: "proj-001", PartNumber: "PN-5000", Name: "Housing",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	updated, err := svc.Update(ctx, part.ID, "user-001", &UpdatePartRequest{
		Status: strPtr(entity.PartStatusActive),
	})
	if err != nil {
		t.Fatalf("draft -> active should succeed: %v", err)
	}
	if updated.Status != entity.PartStatusActive {
		t.Errorf("status not applied: %s", updated.Status)
	}

	// active -> draft is not allowed
	_, err = svc.Update(ctx, part.ID, "user-001", &UpdatePartRequest{
		Status: strPtr(entity.PartStatusDraft),
	})
	var stateErr *apperror.StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("active -> draft should be a state error, got %v", err)
	}
}

func TestPartGetNotFound(t *testing.T) {
	_, svc := setupPartServiceTest(t)

	_, err := svc.Get(context.Background(), "missing-part")
	var notFoundErr *apperror.NotFoundError
	if !errors.As(err, &notFoundErr) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPartList(t *testing.T) {
	_, svc := setupPartServiceTest(t)
	ctx := context.Background()

	for _, pn := range []string{"PN-A1", "PN-A2", "PN-A3"} {
		if _, err := svc.Create(ctx, "user-001", &CreatePartRequest{
			ProjectID: "proj-001", PartNumber: pn, Name: "Part " + pn,
		}); err != nil {
			t.Fatalf("seed create failed: %v", err)
		}
	}

	result, err := svc.List(ctx, "proj-001", 1, 2, map[string]interface{}{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if result.Total != 3 {
		t.Errorf("expected total 3, got %d", result.Total)
	}
	if len(result.Items) != 2 {
		t.Errorf("expected page of 2, got %d", len(result.Items))
	}
	if result.TotalPages != 2 {
		t.Errorf("expected 2 pages, got %d", result.TotalPages)
	}
}

func TestPartNameLengthCountsRunes(t *testing.T) {
	_, svc := setupPartServiceTest(t)
	ctx := context.Background()

	// Two CJK characters are six bytes but still a valid two-character name.
	part, err := svc.Create(ctx, "user-001", &CreatePartRequest{
		ProjectID:  "proj-001",
		PartNumber: "PN-2000",
		Name:       "螺丝",
	})
	if err != nil {
		t.Fatalf("two-character CJK name should be accepted: %v", err)
	}
	if part.Name != "螺丝" {
		t.Errorf("unexpected stored name: %s", part.Name)
	}

	// A single CJK character is three bytes but only one character.
	var valErr *apperror.ValidationError
	_, err = svc.Create(ctx, "user-001", &CreatePartRequest{
		ProjectID:  "proj-001",
		PartNumber: "PN-2001",
		Name:       "螺",
	})
	if !errors.As(err, &valErr) {
		t.Fatalf("one-character name should fail validation, got %v", err)
	}
}
