//go:build cgo

package gpu

/*
#cgo pkg-config: egl glesv2 gbm
#include <stdlib.h>
#include <string.h>
#include <gbm.h>
#include <EGL/egl.h>
#include <EGL/eglext.h>
#include <GLES2/gl2.h>
#include <GLES2/gl2ext.h>

#define DRMC_ARGB8888 0x34325241

static PFNEGLGETPLATFORMDISPLAYEXTPROC drmc_get_platform_display;
static PFNEGLCREATEIMAGEKHRPROC drmc_create_image;
static PFNEGLDESTROYIMAGEKHRPROC drmc_destroy_image;
static PFNGLEGLIMAGETARGETTEXTURE2DOESPROC drmc_image_target_texture;

static const GLfloat drmc_texcoords[8] = {
	0.0f, 1.0f,
	1.0f, 1.0f,
	0.0f, 0.0f,
	1.0f, 0.0f,
};

static const char drmc_vertex_src[] =
	"attribute vec4 position;\n"
	"attribute vec2 texcoord;\n"
	"varying vec2 v_texcoord;\n"
	"void main()\n"
	"{\n"
	"   gl_Position = position;\n"
	"   v_texcoord = texcoord;\n"
	"}\n";

static const char drmc_fragment_src[] =
	"#extension GL_OES_EGL_image_external : require\n"
	"precision mediump float;\n"
	"varying vec2 v_texcoord;\n"
	"uniform samplerExternalOES tex;\n"
	"void main()\n"
	"{\n"
	"    gl_FragColor = texture2D(tex, v_texcoord);\n"
	"}\n";

static int drmc_load_procs(void) {
	if (!drmc_get_platform_display)
		drmc_get_platform_display = (void *)eglGetProcAddress("eglGetPlatformDisplayEXT");
	if (!drmc_create_image)
		drmc_create_image = (void *)eglGetProcAddress("eglCreateImageKHR");
	if (!drmc_destroy_image)
		drmc_destroy_image = (void *)eglGetProcAddress("eglDestroyImageKHR");
	if (!drmc_image_target_texture)
		drmc_image_target_texture = (void *)eglGetProcAddress("glEGLImageTargetTexture2DOES");
	return drmc_create_image && drmc_destroy_image && drmc_image_target_texture;
}

static EGLDisplay drmc_get_display(struct gbm_device *gbm) {
	if (drmc_get_platform_display)
		return drmc_get_platform_display(EGL_PLATFORM_GBM_KHR, gbm, NULL);
	return eglGetDisplay((EGLNativeDisplayType)gbm);
}

// Picks a config whose native visual id is format, else the first one.
static EGLConfig drmc_choose_config(EGLDisplay dpy, EGLint format, int *exact) {
	static const EGLint attrs[] = {
		EGL_SURFACE_TYPE, EGL_WINDOW_BIT,
		EGL_RED_SIZE, 1,
		EGL_GREEN_SIZE, 1,
		EGL_BLUE_SIZE, 1,
		EGL_ALPHA_SIZE, 1,
		EGL_RENDERABLE_TYPE, EGL_OPENGL_ES2_BIT,
		EGL_NONE,
	};
	EGLConfig configs[64];
	EGLint n = 0, i, value;

	*exact = 0;
	if (!eglChooseConfig(dpy, attrs, configs, 64, &n) || n < 1)
		return NULL;

	for (i = 0; i < n; i++) {
		if (!eglGetConfigAttrib(dpy, configs[i], EGL_NATIVE_VISUAL_ID, &value))
			continue;
		if (value == format) {
			*exact = 1;
			return configs[i];
		}
	}
	return configs[0];
}

static EGLContext drmc_create_context(EGLDisplay dpy, EGLConfig cfg) {
	static const EGLint attrs[] = {
		EGL_CONTEXT_CLIENT_VERSION, 2,
		EGL_NONE,
	};
	return eglCreateContext(dpy, cfg, EGL_NO_CONTEXT, attrs);
}

static GLuint drmc_compile(GLenum type, const char *src, char *log, int loglen) {
	GLint status;
	GLuint s = glCreateShader(type);

	glShaderSource(s, 1, &src, NULL);
	glCompileShader(s);
	glGetShaderiv(s, GL_COMPILE_STATUS, &status);
	if (!status) {
		glGetShaderInfoLog(s, loglen, NULL, log);
		glDeleteShader(s);
		return 0;
	}
	return s;
}

static GLuint drmc_build_program(GLuint *vs, GLuint *fs, char *log, int loglen) {
	GLint status;
	GLuint p;

	*vs = drmc_compile(GL_VERTEX_SHADER, drmc_vertex_src, log, loglen);
	if (!*vs)
		return 0;
	*fs = drmc_compile(GL_FRAGMENT_SHADER, drmc_fragment_src, log, loglen);
	if (!*fs)
		return 0;

	p = glCreateProgram();
	glAttachShader(p, *vs);
	glAttachShader(p, *fs);
	glLinkProgram(p);
	glGetProgramiv(p, GL_LINK_STATUS, &status);
	if (!status) {
		glGetProgramInfoLog(p, loglen, NULL, log);
		glDeleteProgram(p);
		return 0;
	}
	return p;
}

static void drmc_setup_program(GLuint p, int width, int height) {
	GLint texcoord;

	glUseProgram(p);
	texcoord = glGetAttribLocation(p, "texcoord");
	glVertexAttribPointer(texcoord, 2, GL_FLOAT, GL_FALSE, 0, drmc_texcoords);
	glEnableVertexAttribArray(texcoord);
	glUniform1i(glGetUniformLocation(p, "tex"), 0);
	glViewport(0, 0, width, height);
}

static struct gbm_surface *drmc_create_surface(struct gbm_device *gbm, int w, int h,
		uint32_t format, uint64_t modifier) {
	if (!modifier)
		return gbm_surface_create(gbm, w, h, format, 0);
	return gbm_surface_create_with_modifiers(gbm, w, h, format, &modifier, 1);
}

static EGLSurface drmc_create_window(EGLDisplay dpy, EGLConfig cfg, struct gbm_surface *s) {
	return eglCreateWindowSurface(dpy, cfg, (EGLNativeWindowType)s, NULL);
}

// Imports an ARGB8888 dma-buf into the bound external texture.
static int drmc_attach_dmabuf(EGLDisplay dpy, EGLContext ctx, int fd, int w, int h) {
	EGLImageKHR image;
	const EGLint attrs[] = {
		EGL_WIDTH, w,
		EGL_HEIGHT, h,
		EGL_LINUX_DRM_FOURCC_EXT, DRMC_ARGB8888,
		EGL_DMA_BUF_PLANE0_FD_EXT, fd,
		EGL_DMA_BUF_PLANE0_OFFSET_EXT, 0,
		EGL_DMA_BUF_PLANE0_PITCH_EXT, w * 4,
		EGL_NONE,
	};

	image = drmc_create_image(dpy, ctx, EGL_LINUX_DMA_BUF_EXT, NULL, attrs);
	if (image == EGL_NO_IMAGE_KHR)
		return -1;

	drmc_image_target_texture(GL_TEXTURE_EXTERNAL_OES, (GLeglImageOES)image);
	drmc_destroy_image(dpy, image);
	return 0;
}

// Draws the quad into the current surface. Returns the texture to delete or
// 0 when the dma-buf import failed.
static GLuint drmc_draw(GLuint program, const GLfloat *in, EGLDisplay dpy, EGLContext ctx,
		int fd, int w, int h) {
	GLfloat verts[8];
	GLint position;
	GLuint texture;

	memcpy(verts, in, sizeof(verts));
	position = glGetAttribLocation(program, "position");
	glVertexAttribPointer(position, 2, GL_FLOAT, GL_FALSE, 0, verts);
	glEnableVertexAttribArray(position);

	glGenTextures(1, &texture);
	glActiveTexture(GL_TEXTURE0);
	glBindTexture(GL_TEXTURE_EXTERNAL_OES, texture);

	if (drmc_attach_dmabuf(dpy, ctx, fd, w, h) < 0) {
		glDeleteTextures(1, &texture);
		return 0;
	}

	glDrawArrays(GL_TRIANGLE_STRIP, 0, 4);
	return texture;
}

static void drmc_delete_texture(GLuint t) {
	glDeleteTextures(1, &t);
}

static uint32_t drmc_bo_handle(struct gbm_bo *bo) {
	return gbm_bo_get_handle(bo).u32;
}
*/
import "C"

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/bnema/drmcursor/internal/drm"
	"github.com/bnema/drmcursor/internal/logger"
	"golang.org/x/sys/unix"
)

type surface struct {
	gbm *C.struct_gbm_surface
	egl C.EGLSurface
}

// EGL renders through GBM and GLES2. It must be used from a single
// goroutine locked to its OS thread.
type EGL struct {
	dev Device
	fd  int

	gbm     *C.struct_gbm_device
	display C.EGLDisplay
	config  C.EGLConfig
	context C.EGLContext

	vertexShader   C.GLuint
	fragmentShader C.GLuint
	program        C.GLuint

	surfaces []surface
	ring     ring

	width    int
	height   int
	format   uint32
	modifier uint64
}

// NewEGL creates the GPU backend on a duplicate of the device descriptor.
func NewEGL(dev Device, opts Options) (*EGL, error) {
	if err := validate(opts); err != nil {
		return nil, err
	}

	fd, err := unix.Dup(dev.Fd())
	if err != nil {
		return nil, fmt.Errorf("dup device: %w", err)
	}
	unix.CloseOnExec(fd)

	e := &EGL{
		dev:      dev,
		fd:       fd,
		ring:     newRing(opts.NumSurfaces),
		width:    opts.Width,
		height:   opts.Height,
		format:   opts.Format,
		modifier: opts.Modifier,
	}
	if err := e.init(); err != nil {
		e.Close()
		return nil, err
	}
	logger.Debug("EGL backend ready",
		"surfaces", e.ring.size, "size", fmt.Sprintf("%dx%d", e.width, e.height),
		"format", drm.FourCCString(e.format), "modifier", fmt.Sprintf("%#x", e.modifier))
	return e, nil
}

func (e *EGL) init() error {
	if C.drmc_load_procs() == 0 {
		return errors.New("EGL image extensions unavailable")
	}

	e.gbm = C.gbm_create_device(C.int(e.fd))
	if e.gbm == nil {
		return errors.New("failed to create GBM device")
	}

	e.display = C.drmc_get_display(e.gbm)
	if e.display == nil {
		return errors.New("failed to get EGL display")
	}
	if C.eglInitialize(e.display, nil, nil) == C.EGL_FALSE {
		return fmt.Errorf("eglInitialize: %#x", C.eglGetError())
	}
	if C.eglBindAPI(C.EGL_OPENGL_ES_API) == C.EGL_FALSE {
		return errors.New("failed to bind OpenGL ES API")
	}

	var exact C.int
	e.config = C.drmc_choose_config(e.display, C.EGLint(e.format), &exact)
	if e.config == nil {
		return errors.New("failed to choose EGL config")
	}
	if exact == 0 {
		logger.Warn("no EGL config for format, using the first one", "format", drm.FourCCString(e.format))
	}

	e.context = C.drmc_create_context(e.display, e.config)
	if e.context == nil {
		return errors.New("failed to create EGL context")
	}

	if err := e.buildSurfaces(); err != nil {
		return err
	}
	cur := e.surfaces[e.ring.cur]
	C.eglMakeCurrent(e.display, cur.egl, cur.egl, e.context)

	var msg [512]C.char
	e.program = C.drmc_build_program(&e.vertexShader, &e.fragmentShader, &msg[0], C.int(len(msg)))
	if e.program == 0 {
		return fmt.Errorf("failed to build shader program: %s", C.GoString(&msg[0]))
	}
	C.drmc_setup_program(e.program, C.int(e.width), C.int(e.height))
	return nil
}

// buildSurfaces (re)creates the ring at the current size.
func (e *EGL) buildSurfaces() error {
	e.destroySurfaces()

	for i := 0; i < e.ring.size; i++ {
		g := C.drmc_create_surface(e.gbm, C.int(e.width), C.int(e.height),
			C.uint32_t(e.format), C.uint64_t(e.modifier))
		if g == nil {
			return fmt.Errorf("failed to create GBM surface %d", i)
		}
		s := C.drmc_create_window(e.display, e.config, g)
		if s == nil {
			C.gbm_surface_destroy(g)
			return fmt.Errorf("failed to create EGL surface %d: %#x", i, C.eglGetError())
		}
		e.surfaces = append(e.surfaces, surface{gbm: g, egl: s})
	}
	return nil
}

func (e *EGL) destroySurfaces() {
	if len(e.surfaces) == 0 {
		return
	}
	C.eglMakeCurrent(e.display, nil, nil, nil)
	for _, s := range e.surfaces {
		C.eglDestroySurface(e.display, s.egl)
		C.gbm_surface_destroy(s.gbm)
	}
	e.surfaces = nil
}

func (e *EGL) resize(width, height int) error {
	e.width, e.height = width, height
	if err := e.buildSurfaces(); err != nil {
		return err
	}
	cur := e.surfaces[e.ring.cur]
	C.eglMakeCurrent(e.display, cur.egl, cur.egl, e.context)
	C.drmc_setup_program(e.program, C.int(width), C.int(height))
	return nil
}

// Convert renders the buffer into the next ring surface and registers the
// result as a framebuffer.
func (e *EGL) Convert(handle uint32, width, height, cropX, cropY int) (uint32, error) {
	if width <= 0 || height <= 0 {
		return 0, fmt.Errorf("invalid cursor size %dx%d", width, height)
	}
	if width != e.width || height != e.height {
		if err := e.resize(width, height); err != nil {
			return 0, fmt.Errorf("rebuild surfaces: %w", err)
		}
	}

	dmaFd, err := e.dev.PrimeHandleToFD(handle)
	if err != nil {
		return 0, err
	}
	defer unix.Close(dmaFd)

	s := e.surfaces[e.ring.next()]
	C.eglMakeCurrent(e.display, s.egl, s.egl, e.context)

	verts := QuadVertices(width, height, cropX, cropY)
	tex := C.drmc_draw(e.program, (*C.GLfloat)(unsafe.Pointer(&verts[0])), e.display, e.context,
		C.int(dmaFd), C.int(width), C.int(height))
	if tex == 0 {
		return 0, fmt.Errorf("import dma-buf: %#x", C.eglGetError())
	}
	defer C.drmc_delete_texture(tex)

	C.eglSwapBuffers(e.display, s.egl)

	bo := C.gbm_surface_lock_front_buffer(s.gbm)
	if bo == nil {
		return 0, errors.New("failed to lock front buffer")
	}
	defer C.gbm_surface_release_buffer(s.gbm, bo)

	fb, err := registerFB(e.dev, uint32(C.drmc_bo_handle(bo)),
		uint32(C.gbm_bo_get_width(bo)), uint32(C.gbm_bo_get_height(bo)),
		uint32(C.gbm_bo_get_stride(bo)), e.format, e.modifier)
	if err != nil {
		return 0, fmt.Errorf("register framebuffer: %w", err)
	}
	return fb, nil
}

// Close releases every GL, EGL and GBM object and the duplicated
// descriptor.
func (e *EGL) Close() error {
	if e.display != nil {
		C.eglMakeCurrent(e.display, nil, nil, nil)
		if e.program != 0 {
			C.glDeleteProgram(e.program)
		}
		if e.fragmentShader != 0 {
			C.glDeleteShader(e.fragmentShader)
		}
		if e.vertexShader != 0 {
			C.glDeleteShader(e.vertexShader)
		}
	}
	e.destroySurfaces()
	if e.display != nil {
		if e.context != nil {
			C.eglDestroyContext(e.display, e.context)
		}
		C.eglTerminate(e.display)
		C.eglReleaseThread()
		e.display = nil
	}
	if e.gbm != nil {
		C.gbm_device_destroy(e.gbm)
		e.gbm = nil
	}
	if e.fd >= 0 {
		unix.Close(e.fd)
		e.fd = -1
	}
	return nil
}
