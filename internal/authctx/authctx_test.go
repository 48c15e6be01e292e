package authctx

import (
	"context"
	"errors"
	"testing"

	"github.com/xelth-com/invtrack/internal/apperr"
	"github.com/xelth-com/invtrack/internal/models"
)

func ptr(v uint) *uint { return &v }

func TestResolveDepartment(t *testing.T) {
	super := User{Role: models.RoleSuperAdmin}
	admin := User{Role: models.RoleAdmin, DepartmentID: ptr(2)}
	orphan := User{Role: models.RoleStandard}

	tests := []struct {
		name    string
		user    User
		req     uint
		want    uint
		wantErr error
	}{
		{"super picks", super, 5, 5, nil},
		{"super must pick", super, 0, 0, apperr.ErrValidation},
		{"admin default", admin, 0, 2, nil},
		{"admin own", admin, 2, 2, nil},
		{"admin foreign", admin, 3, 0, apperr.ErrForbidden},
		{"no department", orphan, 0, 0, apperr.ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.user.ResolveDepartment(tt.req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestContextRoundTrip(t *testing.T) {
	if _, ok := FromContext(context.Background()); ok {
		t.Fatal("empty context should carry no user")
	}
	u := User{ID: "u1", Role: models.RoleStandard, DepartmentID: ptr(1)}
	got, ok := FromContext(WithUser(context.Background(), u))
	if !ok || got.ID != "u1" {
		t.Fatalf("FromContext = %+v, %v", got, ok)
	}
	if got.CanManage() {
		t.Error("standard user must not manage")
	}
	if !got.CanAccess(1) || got.CanAccess(2) {
		t.Error("CanAccess scoping wrong")
	}
	if err := got.RequireManager(); !errors.Is(err, apperr.ErrForbidden) {
		t.Errorf("RequireManager = %v, want ErrForbidden", err)
	}
}
