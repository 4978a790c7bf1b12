package visibility

import (
	"testing"

	"campusconnect/internal/model"
)

func TestIsVisiblePublicPost(t *testing.T) {
	post := model.Post{ID: "p1", TargetBranches: nil}

	if !IsVisible(nil, post) {
		t.Fatalf("expected public post visible to anonymous viewer")
	}
	viewers := []*Viewer{
		{ID: "s1", Role: "student", Branch: "CSE"},
		{ID: "f1", Role: "faculty", AssignedBranches: []string{"ISE"}},
		{ID: "a1", Role: "admin"},
		{ID: "p1", Role: "pending"},
	}
	for _, viewer := range viewers {
		if !IsVisible(viewer, post) {
			t.Fatalf("expected public post visible to %s", viewer.Role)
		}
	}
}

func TestIsVisibleTargetedPost(t *testing.T) {
	single := model.Post{TargetBranches: []string{"ISE"}}
	multi := model.Post{TargetBranches: []string{"CSE", "ISE"}}

	cseStudent := &Viewer{ID: "s1", Role: "student", Branch: "CSE"}
	if IsVisible(cseStudent, single) {
		t.Fatalf("expected CSE student to not see ISE-only post")
	}
	if !IsVisible(cseStudent, multi) {
		t.Fatalf("expected CSE student to see CSE+ISE post")
	}

	if IsVisible(nil, single) {
		t.Fatalf("expected targeted post hidden from anonymous viewer")
	}

	admin := &Viewer{ID: "a1", Role: "admin"}
	if !IsVisible(admin, single) {
		t.Fatalf("expected admin to see every post")
	}

	faculty := &Viewer{ID: "f1", Role: "faculty", AssignedBranches: []string{"ECE", "ISE"}}
	if !IsVisible(faculty, single) {
		t.Fatalf("expected faculty with ISE assignment to see ISE post")
	}
	faculty.AssignedBranches = []string{"ECE"}
	if IsVisible(faculty, single) {
		t.Fatalf("expected faculty without ISE assignment to not see ISE post")
	}

	pending := &Viewer{ID: "u1", Role: "pending", Branch: "ISE"}
	if IsVisible(pending, single) {
		t.Fatalf("expected pending identity to not see targeted post")
	}
}

func TestCanModify(t *testing.T) {
	post := model.Post{ID: "p1", AuthorID: "f1", AuthorRole: "faculty"}

	if !CanModify(&Viewer{ID: "a1", Role: "admin"}, post) {
		t.Fatalf("expected admin to modify any post")
	}
	if !CanModify(&Viewer{ID: "f1", Role: "faculty"}, post) {
		t.Fatalf("expected author to modify own post")
	}
	if CanModify(&Viewer{ID: "f2", Role: "faculty"}, post) {
		t.Fatalf("expected other faculty to not modify post")
	}
	if CanModify(&Viewer{ID: "f1", Role: "student"}, post) {
		t.Fatalf("expected student to not modify post")
	}
	if CanModify(nil, post) {
		t.Fatalf("expected anonymous viewer to not modify post")
	}
}
