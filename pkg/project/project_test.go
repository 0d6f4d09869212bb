package project

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentmux/agentmux/pkg/store"
)

func TestProjectLifecycle(t *testing.T) {
	svc := NewService(store.New(t.TempDir()))

	id, err := svc.AddProject("webshop", "/work/webshop", "team-alpha")
	require.NoError(t, err)

	projects, err := svc.Projects()
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "webshop", projects[0].Name)
	assert.Equal(t, []string{"team-alpha"}, projects[0].TeamIDs)

	require.NoError(t, svc.RemoveProject(id))
	projects, err = svc.Projects()
	require.NoError(t, err)
	assert.Empty(t, projects)

	require.ErrorIs(t, svc.RemoveProject(id), ErrProjectNotFound)
}

func TestTaskAssignment(t *testing.T) {
	svc := NewService(store.New(t.TempDir()))

	projectID, err := svc.AddProject("webshop", "/work/webshop")
	require.NoError(t, err)

	taskID, err := svc.AddTask(projectID, "implement checkout")
	require.NoError(t, err)

	require.NoError(t, svc.AssignTask(taskID, "alpha-dev"))

	tasks, err := svc.TasksFor("alpha-dev")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, TaskInProgress, tasks[0].Status)
	assert.Equal(t, "implement checkout", tasks[0].Title)

	require.NoError(t, svc.SetTaskStatus(taskID, TaskDone))
	tasks, err = svc.Tasks()
	require.NoError(t, err)
	assert.Equal(t, TaskDone, tasks[0].Status)

	require.ErrorIs(t, svc.AssignTask("missing", "x"), ErrTaskNotFound)
}

func TestRemoveProject_DropsItsTasks(t *testing.T) {
	svc := NewService(store.New(t.TempDir()))

	p1, err := svc.AddProject("one", "/p1")
	require.NoError(t, err)
	p2, err := svc.AddProject("two", "/p2")
	require.NoError(t, err)

	_, err = svc.AddTask(p1, "doomed")
	require.NoError(t, err)
	kept, err := svc.AddTask(p2, "survivor")
	require.NoError(t, err)

	require.NoError(t, svc.RemoveProject(p1))

	tasks, err := svc.Tasks()
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, kept, tasks[0].ID)
}
