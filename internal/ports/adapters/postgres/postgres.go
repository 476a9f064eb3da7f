// Package postgres implements the persistence contract on PostgreSQL. All
// Replace* operations run in a single transaction per video so reprocessing
// either fully replaces the derived rows or leaves the old ones intact.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/forPelevin/dejavu/internal/ports"
	"github.com/forPelevin/dejavu/internal/types"
)

type Store struct {
	pool *pgxpool.Pool
}

var _ ports.Store = (*Store)(nil)

const schema = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS videos (
	video          TEXT PRIMARY KEY,
	path           TEXT NOT NULL DEFAULT '',
	content_hash   TEXT NOT NULL DEFAULT '',
	sentence_count INTEGER NOT NULL DEFAULT 0,
	completed      BOOLEAN NOT NULL DEFAULT FALSE,
	last_processed TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS transcript_segments (
	id         BIGSERIAL PRIMARY KEY,
	video      TEXT NOT NULL REFERENCES videos(video) ON DELETE CASCADE,
	idx        INTEGER NOT NULL,
	start_time DOUBLE PRECISION NOT NULL,
	end_time   DOUBLE PRECISION NOT NULL,
	text       TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	UNIQUE (video, idx)
);

CREATE TABLE IF NOT EXISTS sentences (
	id                     BIGSERIAL PRIMARY KEY,
	video                  TEXT NOT NULL REFERENCES videos(video) ON DELETE CASCADE,
	idx                    INTEGER NOT NULL,
	text                   TEXT NOT NULL,
	normalized             TEXT NOT NULL,
	start_time             DOUBLE PRECISION NOT NULL,
	end_time               DOUBLE PRECISION NOT NULL,
	confidence             DOUBLE PRECISION NOT NULL DEFAULT 0,
	origin_video           TEXT NOT NULL DEFAULT '',
	has_cached_annotations BOOLEAN NOT NULL DEFAULT FALSE,
	annotation_count       INTEGER NOT NULL DEFAULT 0,
	UNIQUE (video, idx)
);
CREATE INDEX IF NOT EXISTS sentences_normalized ON sentences (normalized);

CREATE TABLE IF NOT EXISTS scenes (
	id             BIGSERIAL PRIMARY KEY,
	video          TEXT NOT NULL REFERENCES videos(video) ON DELETE CASCADE,
	idx            INTEGER NOT NULL,
	start_time     DOUBLE PRECISION NOT NULL,
	end_time       DOUBLE PRECISION NOT NULL,
	duration       DOUBLE PRECISION NOT NULL,
	sentence_count INTEGER NOT NULL,
	combined_text  TEXT NOT NULL DEFAULT '',
	word_count     INTEGER NOT NULL DEFAULT 0,
	avg_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	difficulty     TEXT NOT NULL DEFAULT '',
	UNIQUE (video, idx)
);

CREATE TABLE IF NOT EXISTS video_frames (
	id         BIGSERIAL PRIMARY KEY,
	video      TEXT NOT NULL REFERENCES videos(video) ON DELETE CASCADE,
	scene_id   BIGINT REFERENCES scenes(id) ON DELETE SET NULL,
	ts         DOUBLE PRECISION NOT NULL,
	image_path TEXT NOT NULL,
	thumb_path TEXT NOT NULL DEFAULT '',
	signature  vector(3)
);

CREATE TABLE IF NOT EXISTS ai_responses (
	id            BIGSERIAL PRIMARY KEY,
	sentence_hash TEXT NOT NULL,
	response_type TEXT NOT NULL,
	custom_prompt TEXT NOT NULL DEFAULT '',
	body          TEXT NOT NULL,
	client        TEXT NOT NULL DEFAULT '',
	is_edited     BOOLEAN NOT NULL DEFAULT FALSE,
	edited_body   TEXT NOT NULL DEFAULT '',
	version       INTEGER NOT NULL DEFAULT 1,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (sentence_hash, response_type, custom_prompt)
);
`

// Open connects, verifies the connection and bootstraps the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) UpsertVideoState(ctx context.Context, st types.VideoState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO videos (video, path, content_hash, sentence_count, completed, last_processed)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (video) DO UPDATE SET
			path = EXCLUDED.path,
			content_hash = EXCLUDED.content_hash,
			sentence_count = EXCLUDED.sentence_count,
			completed = EXCLUDED.completed,
			last_processed = now()`,
		st.Video, st.Path, st.ContentHash, st.SentenceCount, st.Completed,
	)
	if err != nil {
		return fmt.Errorf("upsert video state: %w", err)
	}
	return nil
}

func (s *Store) MarkCompleted(ctx context.Context, video string, sentenceCount int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE videos SET completed = TRUE, sentence_count = $2, last_processed = now()
		WHERE video = $1`,
		video, sentenceCount,
	)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark completed: unknown video %s", video)
	}
	return nil
}

func (s *Store) VideoState(ctx context.Context, video string) (types.VideoState, bool, error) {
	var st types.VideoState
	err := s.pool.QueryRow(ctx, `
		SELECT video, path, content_hash, sentence_count, completed, last_processed
		FROM videos WHERE video = $1`,
		video,
	).Scan(&st.Video, &st.Path, &st.ContentHash, &st.SentenceCount, &st.Completed, &st.LastProcessed)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.VideoState{}, false, nil
	}
	if err != nil {
		return types.VideoState{}, false, fmt.Errorf("load video state: %w", err)
	}
	return st, true, nil
}

func (s *Store) CompletedVideos(ctx context.Context) ([]types.VideoState, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT video, path, content_hash, sentence_count, completed, last_processed
		FROM videos WHERE completed ORDER BY video`)
	if err != nil {
		return nil, fmt.Errorf("list completed videos: %w", err)
	}
	defer rows.Close()

	var out []types.VideoState
	for rows.Next() {
		var st types.VideoState
		if err := rows.Scan(&st.Video, &st.Path, &st.ContentHash, &st.SentenceCount, &st.Completed, &st.LastProcessed); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceSegments(ctx context.Context, video string, segs []types.Segment) error {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM transcript_segments WHERE video = $1`, video); err != nil {
			return err
		}
		for i, seg := range segs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO transcript_segments (video, idx, start_time, end_time, text, confidence)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				video, i, seg.Start, seg.End, seg.Text, seg.Confidence,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace segments for %s: %w", video, err)
	}
	return nil
}

func (s *Store) Segments(ctx context.Context, video string) ([]types.Segment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT start_time, end_time, text, confidence
		FROM transcript_segments WHERE video = $1 ORDER BY idx`,
		video)
	if err != nil {
		return nil, fmt.Errorf("load segments for %s: %w", video, err)
	}
	defer rows.Close()

	var out []types.Segment
	for rows.Next() {
		var seg types.Segment
		if err := rows.Scan(&seg.Start, &seg.End, &seg.Text, &seg.Confidence); err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceSentences(ctx context.Context, video string, ss []types.Sentence) error {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM sentences WHERE video = $1`, video); err != nil {
			return err
		}
		for i, sn := range ss {
			if _, err := tx.Exec(ctx, `
				INSERT INTO sentences (video, idx, text, normalized, start_time, end_time, confidence,
					origin_video, has_cached_annotations, annotation_count)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				video, i, sn.Text, sn.Normalized, sn.Start, sn.End, sn.Confidence,
				sn.OriginVideo, sn.HasCachedAnnotations, sn.AnnotationCount,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace sentences for %s: %w", video, err)
	}
	return nil
}

// ReplaceScenes swaps out a video's scenes and, because frames reference
// scenes, its frames as well. New frames arrive through InsertFrames after
// sampling finishes.
func (s *Store) ReplaceScenes(ctx context.Context, video string, scenes []types.Scene) error {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM video_frames WHERE video = $1`, video); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM scenes WHERE video = $1`, video); err != nil {
			return err
		}
		for _, sc := range scenes {
			if _, err := tx.Exec(ctx, `
				INSERT INTO scenes (video, idx, start_time, end_time, duration, sentence_count,
					combined_text, word_count, avg_confidence, difficulty)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				video, sc.Index, sc.Start, sc.End, sc.Duration, sc.SentenceCount,
				sc.CombinedText, sc.WordCount, sc.AvgConfidence, sc.Difficulty,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace scenes for %s: %w", video, err)
	}
	return nil
}

func (s *Store) InsertFrames(ctx context.Context, video string, frames []types.Frame) error {
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		for _, f := range frames {
			var sceneID *int64
			var id int64
			err := tx.QueryRow(ctx, `
				SELECT id FROM scenes
				WHERE video = $1 AND start_time <= $2 AND end_time >= $2
				ORDER BY idx LIMIT 1`,
				video, f.Timestamp,
			).Scan(&id)
			switch {
			case err == nil:
				sceneID = &id
			case errors.Is(err, pgx.ErrNoRows):
				// Frame outside every scene: keep it, scene stays NULL.
			default:
				return err
			}

			if _, err := tx.Exec(ctx, `
				INSERT INTO video_frames (video, scene_id, ts, image_path, thumb_path, signature)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				video, sceneID, f.Timestamp, f.ImagePath, f.ThumbPath, pgvector.NewVector(f.Signature),
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert frames for %s: %w", video, err)
	}
	return nil
}

func (s *Store) Scenes(ctx context.Context, video string) ([]types.Scene, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, video, idx, start_time, end_time, duration, sentence_count,
			combined_text, word_count, avg_confidence, difficulty
		FROM scenes WHERE video = $1 ORDER BY idx`,
		video)
	if err != nil {
		return nil, fmt.Errorf("load scenes for %s: %w", video, err)
	}
	defer rows.Close()

	var out []types.Scene
	byID := make(map[int64]int)
	for rows.Next() {
		var sc types.Scene
		if err := rows.Scan(&sc.ID, &sc.Video, &sc.Index, &sc.Start, &sc.End, &sc.Duration,
			&sc.SentenceCount, &sc.CombinedText, &sc.WordCount, &sc.AvgConfidence, &sc.Difficulty); err != nil {
			return nil, err
		}
		byID[sc.ID] = len(out)
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}

	frows, err := s.pool.Query(ctx, `
		SELECT scene_id, ts, image_path, thumb_path, signature
		FROM video_frames WHERE video = $1 AND scene_id IS NOT NULL ORDER BY ts`,
		video)
	if err != nil {
		return nil, fmt.Errorf("load frames for %s: %w", video, err)
	}
	defer frows.Close()

	for frows.Next() {
		var sceneID int64
		var f types.Frame
		var sig pgvector.Vector
		if err := frows.Scan(&sceneID, &f.Timestamp, &f.ImagePath, &f.ThumbPath, &sig); err != nil {
			return nil, err
		}
		f.Video = video
		f.Signature = sig.Slice()
		i, ok := byID[sceneID]
		if !ok {
			continue
		}
		f.SceneIndex = out[i].Index
		out[i].Frames = append(out[i].Frames, f)
	}
	return out, frows.Err()
}

// SaveAnnotation upserts by identity. A conflicting row gets the new body and
// client, a bumped version and its edit state cleared, matching the semantics
// of regenerating an annotation.
func (s *Store) SaveAnnotation(ctx context.Context, ann types.Annotation) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ai_responses (sentence_hash, response_type, custom_prompt, body, client)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sentence_hash, response_type, custom_prompt) DO UPDATE SET
			body = EXCLUDED.body,
			client = EXCLUDED.client,
			version = ai_responses.version + 1,
			is_edited = FALSE,
			edited_body = '',
			updated_at = now()`,
		ann.Fingerprint, ann.Type, ann.CustomPrompt, ann.Body, ann.Client,
	)
	if err != nil {
		return fmt.Errorf("save annotation: %w", err)
	}
	return nil
}

func (s *Store) GetAnnotation(ctx context.Context, fingerprint, responseType, customPrompt string) (types.Annotation, bool, error) {
	var ann types.Annotation
	err := s.pool.QueryRow(ctx, `
		SELECT sentence_hash, response_type, custom_prompt, body, client,
			is_edited, edited_body, version, created_at, updated_at
		FROM ai_responses
		WHERE sentence_hash = $1 AND response_type = $2 AND custom_prompt = $3`,
		fingerprint, responseType, customPrompt,
	).Scan(&ann.Fingerprint, &ann.Type, &ann.CustomPrompt, &ann.Body, &ann.Client,
		&ann.IsEdited, &ann.EditedBody, &ann.Version, &ann.CreatedAt, &ann.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Annotation{}, false, nil
	}
	if err != nil {
		return types.Annotation{}, false, fmt.Errorf("load annotation: %w", err)
	}
	return ann, true, nil
}

// EditAnnotation overlays a user edit without touching the canonical body;
// the original stays recoverable and a later regeneration clears the edit.
func (s *Store) EditAnnotation(ctx context.Context, fingerprint, responseType, editedBody string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE ai_responses SET is_edited = TRUE, edited_body = $3, updated_at = now()
		WHERE sentence_hash = $1 AND response_type = $2 AND custom_prompt = ''`,
		fingerprint, responseType, editedBody,
	)
	if err != nil {
		return fmt.Errorf("edit annotation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("edit annotation: no cached %s annotation for fingerprint %s", responseType, fingerprint)
	}
	return nil
}
