package repository

import (
	"context"

	"github.com/snsa-kscc/NutriChatBack/internal/models"
)

const nutritionistColumns = `subject_id, name, specialization, bio, avatar_url, is_online, created_at, updated_at`

type NutritionistRepository struct {
	db DBTX
}

func NewNutritionistRepository(db DBTX) *NutritionistRepository {
	return &NutritionistRepository{db: db}
}

func (r *NutritionistRepository) Upsert(
	ctx context.Context,
	nutritionist *models.Nutritionist,
) (*models.Nutritionist, error) {
	query := `
		INSERT INTO nutritionists (subject_id, name, specialization, bio, avatar_url, is_online)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (subject_id)
		DO UPDATE SET name = EXCLUDED.name, specialization = EXCLUDED.specialization,
			bio = EXCLUDED.bio, avatar_url = EXCLUDED.avatar_url,
			is_online = EXCLUDED.is_online, updated_at = NOW()
		RETURNING ` + nutritionistColumns

	return r.scanNutritionist(r.db.QueryRow(
		ctx,
		query,
		nutritionist.SubjectID,
		nutritionist.Name,
		nutritionist.Specialization,
		nutritionist.Bio,
		nutritionist.AvatarURL,
		nutritionist.IsOnline,
	))
}

func (r *NutritionistRepository) GetBySubjectID(ctx context.Context, subjectID string) (*models.Nutritionist, error) {
	query := `
		SELECT ` + nutritionistColumns + `
		FROM nutritionists
		WHERE subject_id = $1
	`
	return r.scanNutritionist(r.db.QueryRow(ctx, query, subjectID))
}

func (r *NutritionistRepository) List(ctx context.Context, onlineOnly bool) ([]models.Nutritionist, error) {
	query := `
		SELECT ` + nutritionistColumns + `
		FROM nutritionists
		WHERE $1 = FALSE OR is_online = TRUE
		ORDER BY name ASC
	`

	rows, err := r.db.Query(ctx, query, onlineOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	nutritionists := make([]models.Nutritionist, 0)
	for rows.Next() {
		var nutritionist models.Nutritionist
		if err := rows.Scan(
			&nutritionist.SubjectID,
			&nutritionist.Name,
			&nutritionist.Specialization,
			&nutritionist.Bio,
			&nutritionist.AvatarURL,
			&nutritionist.IsOnline,
			&nutritionist.CreatedAt,
			&nutritionist.UpdatedAt,
		); err != nil {
			return nil, err
		}
		nutritionists = append(nutritionists, nutritionist)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nutritionists, nil
}

// SetOnline updates the presence flag. Returns pgx.ErrNoRows when no profile
// exists for the subject.
func (r *NutritionistRepository) SetOnline(ctx context.Context, subjectID string, online bool) (*models.Nutritionist, error) {
	query := `
		UPDATE nutritionists
		SET is_online = $2, updated_at = NOW()
		WHERE subject_id = $1
		RETURNING ` + nutritionistColumns

	return r.scanNutritionist(r.db.QueryRow(ctx, query, subjectID, online))
}

func (r *NutritionistRepository) scanNutritionist(row interface{ Scan(dest ...any) error }) (*models.Nutritionist, error) {
	var nutritionist models.Nutritionist
	err := row.Scan(
		&nutritionist.SubjectID,
		&nutritionist.Name,
		&nutritionist.Specialization,
		&nutritionist.Bio,
		&nutritionist.AvatarURL,
		&nutritionist.IsOnline,
		&nutritionist.CreatedAt,
		&nutritionist.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &nutritionist, nil
}
