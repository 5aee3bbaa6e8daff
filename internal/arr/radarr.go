package arr

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/sirupsen/logrus"
)

const cacheSize = 4096

type MovieFile struct {
	ID   int    `json:"id"`
	Path string `json:"path"`
}

type Movie struct {
	ID        int        `json:"id"`
	Title     string     `json:"title"`
	Path      string     `json:"path"`
	HasFile   bool       `json:"hasFile"`
	MovieFile *MovieFile `json:"movieFile,omitempty"`
}

type RadarrClient struct {
	apiClient
	movieBySymlink *lru.Cache[string, int]
}

func NewRadarrClient(host, apiKey string, httpClient *http.Client) *RadarrClient {
	cache, _ := lru.New[string, int](cacheSize)
	return &RadarrClient{
		apiClient:      newAPIClient(host, apiKey, httpClient),
		movieBySymlink: cache,
	}
}

func (c *RadarrClient) GetMovies(ctx context.Context) ([]Movie, error) {
	var movies []Movie
	if err := c.get(ctx, "/movie", nil, &movies); err != nil {
		return nil, err
	}
	return movies, nil
}

func (c *RadarrClient) GetMovie(ctx context.Context, id int) (Movie, error) {
	var movie Movie
	if err := c.get(ctx, "/movie/"+strconv.Itoa(id), nil, &movie); err != nil {
		return Movie{}, err
	}
	return movie, nil
}

func (c *RadarrClient) DeleteMovieFile(ctx context.Context, movieFileID int) error {
	return c.delete(ctx, "/moviefile/"+strconv.Itoa(movieFileID))
}

func (c *RadarrClient) SearchMovies(ctx context.Context, movieIDs []int) (Command, error) {
	return c.command(ctx, map[string]any{"name": "MoviesSearch", "movieIds": movieIDs})
}

func (c *RadarrClient) RemoveAndSearch(ctx context.Context, symlinkPath string) (bool, error) {
	movie, ok, err := c.findMovie(ctx, symlinkPath)
	if err != nil || !ok {
		return false, err
	}

	if err := c.DeleteMovieFile(ctx, movie.MovieFile.ID); err != nil {
		return false, fmt.Errorf("failed to delete movie file `%s` from radarr instance `%s`: %w", symlinkPath, c.host, err)
	}
	c.movieBySymlink.Remove(symlinkPath)

	if _, err := c.SearchMovies(ctx, []int{movie.ID}); err != nil {
		return false, fmt.Errorf("failed to search for movie %d on radarr instance `%s`: %w", movie.ID, c.host, err)
	}
	log.WithFields(log.Fields{"host": c.host, "movie": movie.Title}).Info("triggered radarr search")
	return true, nil
}

func (c *RadarrClient) findMovie(ctx context.Context, symlinkPath string) (Movie, bool, error) {
	if id, ok := c.movieBySymlink.Get(symlinkPath); ok {
		movie, err := c.GetMovie(ctx, id)
		if err == nil && movie.MovieFile != nil && movie.MovieFile.Path == symlinkPath {
			return movie, true, nil
		}
		if err != nil && !isNotFound(err) {
			return Movie{}, false, err
		}
	}

	movies, err := c.GetMovies(ctx)
	if err != nil {
		return Movie{}, false, err
	}
	var found *Movie
	for i := range movies {
		movie := movies[i]
		if movie.MovieFile == nil || movie.MovieFile.Path == "" {
			continue
		}
		c.movieBySymlink.Add(movie.MovieFile.Path, movie.ID)
		if movie.MovieFile.Path == symlinkPath {
			found = &movies[i]
		}
	}
	if found == nil {
		return Movie{}, false, nil
	}
	return *found, true, nil
}
