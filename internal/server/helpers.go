package server

import (
	"context"
	"fmt"
	"sort"

	"narrative-core/internal/core"
)

// fetchArticlesByID resolves a page of a narrative's ArticleIDs into full
// Article records. ArticleRepository has no batch-get, so a narrative's
// article list is paged in application code rather than adding a bulk query to the persistence
// interface for this one read path.
func (s *Server) fetchArticlesByID(ctx context.Context, ids []string, offset, limit int) ([]core.Article, error) {
	if offset > len(ids) {
		offset = len(ids)
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	page := ids[offset:end]

	articles := make([]core.Article, 0, len(page))
	for _, id := range page {
		a, err := s.store.Articles().Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("fetching article %s: %w", id, err)
		}
		if a != nil {
			articles = append(articles, *a)
		}
	}
	return articles, nil
}

// sortByVelocityWeightedCount orders narratives by velocity*article_count
// descending, the ranking order for /narratives/active.
func sortByVelocityWeightedCount(narratives []core.Narrative) {
	sort.SliceStable(narratives, func(i, j int) bool {
		wi := narratives[i].Velocity * float64(narratives[i].ArticleCount)
		wj := narratives[j].Velocity * float64(narratives[j].ArticleCount)
		return wi > wj
	})
}
