package compositor

import (
	"fmt"
	"strconv"
	"strings"
)

// shaderHeader and shaderMain are the fixed parts of the render pipeline;
// FormatShaderConstants splices in the per-slot texture/LUT bindings and the
// enabled-slot accumulation loop, since WGSL has no runtime-sized binding
// arrays and MAX_CHANNELS varies by rig configuration.
const shaderHeader = `
struct ChannelUniform {
  min_v: f32,
  max_v: f32,
  apply_lut: u32,
  enabled: u32,
}

struct Uniforms {
  delta_crop: vec4<f32>,
  display_mode: u32,
  active_count: u32,
  _pad0: u32,
  _pad1: u32,
  channels: array<ChannelUniform, MAX_CHANNELS>,
}

@group(0) @binding(0) var<uniform> u: Uniforms;
@group(0) @binding(1) var samp: sampler;
`

const shaderMain = `
struct VertexOut {
  @builtin(position) pos: vec4<f32>,
  @location(0) uv: vec2<f32>,
}

@vertex
fn vs_main(@builtin(vertex_index) idx: u32) -> VertexOut {
  var positions = array<vec2<f32>, 6>(
    vec2<f32>(-1.0, -1.0), vec2<f32>(1.0, -1.0), vec2<f32>(-1.0, 1.0),
    vec2<f32>(-1.0, 1.0), vec2<f32>(1.0, -1.0), vec2<f32>(1.0, 1.0),
  );
  var uvs = array<vec2<f32>, 6>(
    vec2<f32>(0.0, 1.0), vec2<f32>(1.0, 1.0), vec2<f32>(0.0, 0.0),
    vec2<f32>(0.0, 0.0), vec2<f32>(1.0, 1.0), vec2<f32>(1.0, 0.0),
  );
  var out: VertexOut;
  out.pos = vec4<f32>(positions[idx], 0.0, 1.0);
  out.uv = uvs[idx];
  return out;
}

@fragment
fn fs_main(in: VertexOut) -> @location(0) vec4<f32> {
  let k = u.delta_crop.z;
  let uv = clamp(in.uv * (1.0 - k) + u.delta_crop.xy, vec2<f32>(0.0), vec2<f32>(1.0));

  var out = vec4<f32>(0.0, 0.0, 0.0, 0.0);
%s
  return clamp(out, vec4<f32>(0.0), vec4<f32>(1.0));
}
`

const slotBindingTemplate = `@group(0) @binding(%d) var tex%d: texture_2d<f32>;
@group(0) @binding(%d) var lut%d: texture_2d<f32>;
`

const slotAccumulateTemplate = `  if (u.channels[%d].enabled != 0u) {
    let texel%d = textureSample(tex%d, samp, uv);
    let denom%d = u.channels[%d].max_v - u.channels[%d].min_v;
    var remap%d = 0.0;
    if (denom%d > 0.0) {
      remap%d = clamp((texel%d.r - u.channels[%d].min_v) / denom%d, 0.0, 1.0);
    }
    var rgb%d = vec3<f32>(remap%d, remap%d, remap%d);
    if (u.channels[%d].apply_lut != 0u) {
      rgb%d = textureSample(lut%d, samp, vec2<f32>(remap%d, 0.5)).rgb;
    }
    out = vec4<f32>(out.rgb + rgb%d, 1.0);
  }
`

// firstTextureBinding is binding 2: 0 is the uniform buffer, 1 the sampler.
const firstTextureBinding = 2

// FormatShaderConstants builds the complete WGSL source for maxChannels
// slots: MAX_CHANNELS substituted into the uniform array length, one
// texture+LUT binding pair per slot starting at binding 2, and a fragment
// body that accumulates every slot.
func FormatShaderConstants(maxChannels int) string {
	var bindings strings.Builder
	var body strings.Builder
	for i := 0; i < maxChannels; i++ {
		texBinding := firstTextureBinding + 2*i
		lutBinding := texBinding + 1
		fmt.Fprintf(&bindings, slotBindingTemplate, texBinding, i, lutBinding, i)
		fmt.Fprintf(&body, slotAccumulateTemplate,
			i, i, i, i, i, i, i, i, i, i, i, i, i, i, i, i, i, i, i, i, i)
	}

	src := shaderHeader + bindings.String() + fmt.Sprintf(shaderMain, body.String())
	return strings.ReplaceAll(src, "MAX_CHANNELS", strconv.Itoa(maxChannels))
}
