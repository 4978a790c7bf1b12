package visibility

import "campusconnect/internal/model"

// Viewer is the subset of an identity that visibility decisions depend on.
// A nil *Viewer is an anonymous reader.
type Viewer struct {
	ID               string
	Role             string
	Branch           string
	AssignedBranches []string
}

// IsVisible reports whether the viewer may see the post. Posts with no target
// branches are public, including to anonymous viewers.
func IsVisible(viewer *Viewer, post model.Post) bool {
	if len(post.TargetBranches) == 0 {
		return true
	}
	if viewer == nil {
		return false
	}
	switch viewer.Role {
	case "admin":
		return true
	case "student":
		return containsBranch(post.TargetBranches, viewer.Branch)
	case "faculty":
		for _, branch := range viewer.AssignedBranches {
			if containsBranch(post.TargetBranches, branch) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// CanModify reports whether the viewer may edit or delete the post: admins
// always, faculty only for their own posts.
func CanModify(viewer *Viewer, post model.Post) bool {
	if viewer == nil {
		return false
	}
	if viewer.Role == "admin" {
		return true
	}
	return viewer.Role == "faculty" && viewer.ID == post.AuthorID
}

func containsBranch(branches []string, branch string) bool {
	for _, candidate := range branches {
		if candidate == branch {
			return true
		}
	}
	return false
}
