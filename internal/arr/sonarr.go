package arr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
)

type Series struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Path  string `json:"path"`
}

type EpisodeFile struct {
	ID       int    `json:"id"`
	SeriesID int    `json:"seriesId"`
	Path     string `json:"path"`
}

type Episode struct {
	ID            int `json:"id"`
	EpisodeFileID int `json:"episodeFileId"`
}

type SonarrClient struct {
	apiClient
	seriesByPath         *lru.Cache[string, int]
	episodeFileBySymlink *lru.Cache[string, int]
}

func NewSonarrClient(host, apiKey string, httpClient *http.Client) *SonarrClient {
	series, _ := lru.New[string, int](cacheSize)
	files, _ := lru.New[string, int](cacheSize)
	return &SonarrClient{
		apiClient:            newAPIClient(host, apiKey, httpClient),
		seriesByPath:         series,
		episodeFileBySymlink: files,
	}
}

func (c *SonarrClient) GetAllSeries(ctx context.Context) ([]Series, error) {
	var series []Series
	if err := c.get(ctx, "/series", nil, &series); err != nil {
		return nil, err
	}
	return series, nil
}

func (c *SonarrClient) GetSeries(ctx context.Context, id int) (Series, error) {
	var series Series
	if err := c.get(ctx, "/series/"+strconv.Itoa(id), nil, &series); err != nil {
		return Series{}, err
	}
	return series, nil
}

func (c *SonarrClient) GetEpisodeFile(ctx context.Context, id int) (EpisodeFile, error) {
	var file EpisodeFile
	if err := c.get(ctx, "/episodefile/"+strconv.Itoa(id), nil, &file); err != nil {
		return EpisodeFile{}, err
	}
	return file, nil
}

func (c *SonarrClient) GetEpisodeFiles(ctx context.Context, seriesID int) ([]EpisodeFile, error) {
	var files []EpisodeFile
	query := url.Values{"seriesId": {strconv.Itoa(seriesID)}}
	if err := c.get(ctx, "/episodefile", query, &files); err != nil {
		return nil, err
	}
	return files, nil
}

func (c *SonarrClient) GetEpisodesForFile(ctx context.Context, episodeFileID int) ([]Episode, error) {
	var episodes []Episode
	query := url.Values{"episodeFileId": {strconv.Itoa(episodeFileID)}}
	if err := c.get(ctx, "/episode", query, &episodes); err != nil {
		return nil, err
	}
	return episodes, nil
}

func (c *SonarrClient) DeleteEpisodeFile(ctx context.Context, episodeFileID int) error {
	return c.delete(ctx, "/episodefile/"+strconv.Itoa(episodeFileID))
}

func (c *SonarrClient) SearchEpisodes(ctx context.Context, episodeIDs []int) (Command, error) {
	return c.command(ctx, map[string]any{"name": "EpisodeSearch", "episodeIds": episodeIDs})
}

func (c *SonarrClient) RemoveAndSearch(ctx context.Context, symlinkPath string) (bool, error) {
	fileID, ok, err := c.findEpisodeFile(ctx, symlinkPath)
	if err != nil || !ok {
		return false, err
	}

	episodes, err := c.GetEpisodesForFile(ctx, fileID)
	if err != nil {
		return false, err
	}
	episodeIDs := make([]int, 0, len(episodes))
	for _, episode := range episodes {
		episodeIDs = append(episodeIDs, episode.ID)
	}
	if len(episodeIDs) == 0 {
		return false, nil
	}

	if err := c.DeleteEpisodeFile(ctx, fileID); err != nil {
		return false, fmt.Errorf("failed to delete episode file `%s` from sonarr instance `%s`: %w", symlinkPath, c.host, err)
	}
	c.episodeFileBySymlink.Remove(symlinkPath)

	if _, err := c.SearchEpisodes(ctx, episodeIDs); err != nil {
		return false, fmt.Errorf("failed to search for episodes on sonarr instance `%s`: %w", c.host, err)
	}
	log.WithFields(log.Fields{"host": c.host, "episodes": len(episodeIDs)}).Info("triggered sonarr search")
	return true, nil
}

func (c *SonarrClient) findEpisodeFile(ctx context.Context, symlinkPath string) (int, bool, error) {
	if id, ok := c.episodeFileBySymlink.Get(symlinkPath); ok {
		file, err := c.GetEpisodeFile(ctx, id)
		if err == nil && file.Path == symlinkPath {
			return id, true, nil
		}
		if err != nil && !isNotFound(err) {
			return 0, false, err
		}
	}

	seriesID, ok, err := c.findSeries(ctx, symlinkPath)
	if err != nil || !ok {
		return 0, false, err
	}

	files, err := c.GetEpisodeFiles(ctx, seriesID)
	if err != nil {
		return 0, false, err
	}
	found := 0
	for _, file := range files {
		c.episodeFileBySymlink.Add(file.Path, file.ID)
		if file.Path == symlinkPath {
			found = file.ID
		}
	}
	return found, found != 0, nil
}

func (c *SonarrClient) findSeries(ctx context.Context, symlinkPath string) (int, bool, error) {
	for dir := filepath.Dir(symlinkPath); ; dir = filepath.Dir(dir) {
		if id, ok := c.seriesByPath.Get(dir); ok {
			series, err := c.GetSeries(ctx, id)
			if err == nil && strings.HasPrefix(symlinkPath, series.Path) {
				return id, true, nil
			}
			if err != nil && !isNotFound(err) {
				return 0, false, err
			}
			break
		}
		if parent := filepath.Dir(dir); parent == dir {
			break
		}
	}

	all, err := c.GetAllSeries(ctx)
	if err != nil {
		return 0, false, err
	}
	found := 0
	for _, series := range all {
		if series.Path == "" {
			continue
		}
		c.seriesByPath.Add(filepath.Clean(series.Path), series.ID)
		if strings.HasPrefix(symlinkPath, series.Path) {
			found = series.ID
		}
	}
	return found, found != 0, nil
}

func isNotFound(err error) bool {
	var status *StatusError
	return errors.As(err, &status) && status.StatusCode == http.StatusNotFound
}
