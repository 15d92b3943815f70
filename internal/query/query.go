// Package query computes relationship views over a snapshot.
// All functions are pure and return users sorted by ID.
package query

import "dropmates/internal/model"

func FindFollowers(s model.RelationshipSnapshot, excludeVerified bool) []model.UserRecord {
	return filter(s.Followers, excludeVerified, nil)
}

func FindFollowing(s model.RelationshipSnapshot, excludeVerified bool) []model.UserRecord {
	return filter(s.Following, excludeVerified, nil)
}

// FindShame returns accounts in Following that are absent from Followers.
func FindShame(s model.RelationshipSnapshot, excludeVerified bool) []model.UserRecord {
	followers := s.FollowerIndex()
	return filter(s.Following, excludeVerified, func(u model.UserRecord) bool {
		_, followsBack := followers[u.ID]
		return !followsBack
	})
}

func filter(users []model.UserRecord, excludeVerified bool, keep func(model.UserRecord) bool) []model.UserRecord {
	result := make([]model.UserRecord, 0, len(users))
	for _, u := range users {
		if excludeVerified && u.IsVerified {
			continue
		}
		if keep != nil && !keep(u) {
			continue
		}
		result = append(result, u)
	}
	model.SortByID(result)
	return result
}
