// Package project tracks active projects and the in-progress tasks
// assigned to agent sessions.
package project

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agentmux/agentmux/pkg/store"
)

// Persisted file names.
const (
	ProjectsFile = "active-projects.json"
	TasksFile    = "task-tracking.json"
)

// Sentinel errors.
var (
	ErrProjectNotFound = errors.New("project not found")
	ErrTaskNotFound    = errors.New("task not found")
)

// Project binds a working directory to one or more teams.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	TeamIDs   []string  `json:"team_ids,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Task statuses.
const (
	TaskOpen       = "open"
	TaskInProgress = "in_progress"
	TaskDone       = "done"
	TaskBlocked    = "blocked"
)

// Task is one unit of work assigned to an agent session.
type Task struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Title     string    `json:"title"`
	Assignee  string    `json:"assignee,omitempty"` // session name
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Service manages the project and task files.
type Service struct {
	store *store.Store
}

// NewService creates the project service.
func NewService(st *store.Store) *Service {
	return &Service{store: st}
}

// AddProject registers an active project and returns its id.
func (s *Service) AddProject(name, path string, teamIDs ...string) (string, error) {
	id := uuid.NewString()
	_, err := store.ModifyJSON(s.store, ProjectsFile, []Project{}, func(projects *[]Project) error {
		*projects = append(*projects, Project{
			ID: id, Name: name, Path: path, TeamIDs: teamIDs, CreatedAt: time.Now(),
		})
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Projects returns all active projects.
func (s *Service) Projects() ([]Project, error) {
	return store.ReadJSON(s.store, ProjectsFile, []Project{})
}

// RemoveProject drops a project and all of its tasks.
func (s *Service) RemoveProject(id string) error {
	_, err := store.ModifyJSON(s.store, ProjectsFile, []Project{}, func(projects *[]Project) error {
		for i, p := range *projects {
			if p.ID == id {
				*projects = append((*projects)[:i], (*projects)[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("project %q: %w", id, ErrProjectNotFound)
	})
	if err != nil {
		return err
	}
	_, err = store.ModifyJSON(s.store, TasksFile, []Task{}, func(tasks *[]Task) error {
		kept := (*tasks)[:0]
		for _, task := range *tasks {
			if task.ProjectID != id {
				kept = append(kept, task)
			}
		}
		*tasks = kept
		return nil
	})
	return err
}

// AddTask creates a task in a project and returns its id.
func (s *Service) AddTask(projectID, title string) (string, error) {
	projects, err := store.ReadJSON(s.store, ProjectsFile, []Project{})
	if err != nil {
		return "", err
	}
	found := false
	for _, p := range projects {
		if p.ID == projectID {
			found = true
			break
		}
	}
	if !found {
		return "", fmt.Errorf("project %q: %w", projectID, ErrProjectNotFound)
	}

	id := uuid.NewString()
	now := time.Now()
	_, err = store.ModifyJSON(s.store, TasksFile, []Task{}, func(tasks *[]Task) error {
		*tasks = append(*tasks, Task{
			ID: id, ProjectID: projectID, Title: title,
			Status: TaskOpen, CreatedAt: now, UpdatedAt: now,
		})
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// AssignTask binds a task to an agent session and marks it in progress.
func (s *Service) AssignTask(taskID, session string) error {
	return s.modifyTask(taskID, func(task *Task) {
		task.Assignee = session
		task.Status = TaskInProgress
	})
}

// SetTaskStatus updates a task's status.
func (s *Service) SetTaskStatus(taskID, status string) error {
	return s.modifyTask(taskID, func(task *Task) {
		task.Status = status
	})
}

// TasksFor returns all tasks assigned to a session.
func (s *Service) TasksFor(session string) ([]Task, error) {
	tasks, err := store.ReadJSON(s.store, TasksFile, []Task{})
	if err != nil {
		return nil, err
	}
	var out []Task
	for _, task := range tasks {
		if task.Assignee == session {
			out = append(out, task)
		}
	}
	return out, nil
}

// Tasks returns all tracked tasks.
func (s *Service) Tasks() ([]Task, error) {
	return store.ReadJSON(s.store, TasksFile, []Task{})
}

func (s *Service) modifyTask(taskID string, mutate func(*Task)) error {
	_, err := store.ModifyJSON(s.store, TasksFile, []Task{}, func(tasks *[]Task) error {
		for i := range *tasks {
			if (*tasks)[i].ID == taskID {
				mutate(&(*tasks)[i])
				(*tasks)[i].UpdatedAt = time.Now()
				return nil
			}
		}
		return fmt.Errorf("task %q: %w", taskID, ErrTaskNotFound)
	})
	return err
}
